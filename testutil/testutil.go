// Package testutil собирает общие для тестов зависимости: SQLite в памяти и подделки внешних сервисов.
package testutil

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mikeka317/wager-arbiter/db"
	"github.com/mikeka317/wager-arbiter/models"
	"github.com/mikeka317/wager-arbiter/storage"
	"github.com/mikeka317/wager-arbiter/verifier"
	"github.com/stretchr/testify/require"
)

// NewSQLiteDB открывает отдельную базу в памяти со схемой приложения.
func NewSQLiteDB(t testing.TB) *sql.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=busy_timeout(5000)", uuid.NewString())
	conn, err := db.Connect(db.DriverSQLite, dsn, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, db.CreateSchema(context.Background(), conn))
	return conn
}

// Clock - управляемые часы.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock {
	return &Clock{now: start.UTC()}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// FakeVerifier отвечает заданным вердиктом или ошибкой и запоминает запросы.
type FakeVerifier struct {
	mu       sync.Mutex
	verdict  *verifier.Verdict
	err      error
	requests []verifier.Request
	// Hook вызывается внутри Verify до ответа (например, чтобы изменить матч во время вызова).
	Hook func(req verifier.Request)
}

func (f *FakeVerifier) Respond(v *verifier.Verdict, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verdict = v
	f.err = err
}

func (f *FakeVerifier) Verify(ctx context.Context, req verifier.Request) (*verifier.Verdict, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	verdict, err, hook := f.verdict, f.err, f.Hook
	f.mu.Unlock()

	if hook != nil {
		hook(req)
	}
	if err != nil {
		return nil, err
	}
	if verdict == nil {
		return nil, verifier.ErrUnavailable
	}
	cp := *verdict
	cp.Suggestions = append([]string(nil), verdict.Suggestions...)
	return &cp, nil
}

func (f *FakeVerifier) Requests() []verifier.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]verifier.Request(nil), f.requests...)
}

// FakeUploader хранит загруженные файлы в памяти.
type FakeUploader struct {
	mu      sync.Mutex
	BaseURL string
	Objects map[string][]byte
}

var _ storage.FileUploader = (*FakeUploader)(nil)

func NewFakeUploader(baseURL string) *FakeUploader {
	return &FakeUploader{BaseURL: baseURL, Objects: make(map[string][]byte)}
}

func (u *FakeUploader) Upload(ctx context.Context, key, contentType string, reader io.Reader) (*storage.UploadResult, error) {
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, reader); err != nil {
		return nil, err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Objects[key] = buf.Bytes()
	return &storage.UploadResult{Key: key, Location: u.GetPublicURL(key)}, nil
}

func (u *FakeUploader) Delete(ctx context.Context, key string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	delete(u.Objects, key)
	return nil
}

func (u *FakeUploader) GetPublicURL(key string) string {
	return u.BaseURL + "/" + key
}

// Event - событие, отправленное в комнату.
type Event struct {
	Room    string
	Type    string
	Payload interface{}
}

// RecordingPublisher запоминает события вместо рассылки по websocket.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *RecordingPublisher) Publish(room, eventType string, payload interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Room: room, Type: eventType, Payload: payload})
}

func (p *RecordingPublisher) Events(room string) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, 0)
	for _, e := range p.events {
		if e.Room == room {
			out = append(out, e)
		}
	}
	return out
}

// RecordingNotifier запоминает оповещения операторов.
type RecordingNotifier struct {
	mu     sync.Mutex
	alerts []models.OperatorAlert
}

func (n *RecordingNotifier) Notify(ctx context.Context, alert *models.OperatorAlert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, *alert)
	return nil
}

func (n *RecordingNotifier) Alerts() []models.OperatorAlert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.OperatorAlert(nil), n.alerts...)
}
