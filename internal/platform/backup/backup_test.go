package backup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

func writeString(s string) func(io.Writer) error {
	return func(w io.Writer) error {
		_, err := io.WriteString(w, s)
		return err
	}
}

func TestKey(t *testing.T) {
	got := Key(time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC))
	if got != "clinic-backup-2024-03-05T14-07-09Z.json" {
		t.Errorf("unexpected key %s", got)
	}
}

type recordingNotifier struct {
	objects []*Object
	err     error
}

func (n *recordingNotifier) Notify(_ context.Context, obj *Object) error {
	n.objects = append(n.objects, obj)
	return n.err
}

func TestRunner_StoresAndNotifies(t *testing.T) {
	store := NewMemoryStore()
	notifier := &recordingNotifier{}
	r := NewRunner(store, notifier)
	r.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

	obj, err := r.Run(context.Background(), writeString(`{"patients":[]}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if obj.Key != "clinic-backup-2024-01-02T03-04-05Z.json" {
		t.Errorf("unexpected key %s", obj.Key)
	}
	if obj.Size != int64(len(`{"patients":[]}`)) || len(obj.SHA256) != 64 {
		t.Errorf("unexpected object %+v", obj)
	}
	if data, ok := store.Get(obj.Key); !ok || string(data) != `{"patients":[]}` {
		t.Errorf("expected stored content, got %q", data)
	}
	if len(notifier.objects) != 1 {
		t.Errorf("expected one notification, got %d", len(notifier.objects))
	}
}

func TestRunner_Empty(t *testing.T) {
	r := NewRunner(NewMemoryStore(), nil)
	if _, err := r.Run(context.Background(), writeString("")); !errors.Is(err, ErrEmptyBackup) {
		t.Errorf("expected ErrEmptyBackup, got %v", err)
	}
}

func TestRunner_NotifyFailureKeepsObject(t *testing.T) {
	r := NewRunner(NewMemoryStore(), &recordingNotifier{err: errors.New("queue down")})
	obj, err := r.Run(context.Background(), writeString("{}"))
	if err == nil {
		t.Fatal("expected notify error")
	}
	if obj == nil {
		t.Error("expected stored object despite notify failure")
	}
}

func TestLocalStore_Put(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	s := NewLocalStore(dir)

	obj, err := s.Put(context.Background(), "clinic-backup-x.json", []byte(`{"a":1}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "clinic-backup-x.json"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"a":1}` {
		t.Errorf("unexpected content %q", data)
	}
	if obj.Location != filepath.Join(dir, "clinic-backup-x.json") {
		t.Errorf("unexpected location %s", obj.Location)
	}
	if _, err := os.Stat(obj.Location + ".tmp"); !os.IsNotExist(err) {
		t.Error("expected temp file to be gone")
	}
}

type fakeS3 struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = in
	b, _ := io.ReadAll(in.Body)
	f.body = string(b)
	return &s3.PutObjectOutput{}, f.err
}

func TestS3Store_Put(t *testing.T) {
	client := &fakeS3{}
	s := NewS3Store(client, "clinic-backups", "daily/")

	obj, err := s.Put(context.Background(), "clinic-backup-x.json", []byte("{}"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if aws.ToString(client.input.Bucket) != "clinic-backups" || aws.ToString(client.input.Key) != "daily/clinic-backup-x.json" {
		t.Errorf("unexpected target %s/%s", aws.ToString(client.input.Bucket), aws.ToString(client.input.Key))
	}
	if aws.ToString(client.input.ContentType) != ContentType {
		t.Errorf("unexpected content type %s", aws.ToString(client.input.ContentType))
	}
	if client.body != "{}" {
		t.Errorf("unexpected body %q", client.body)
	}
	if obj.Location != "s3://clinic-backups/daily/clinic-backup-x.json" {
		t.Errorf("unexpected location %s", obj.Location)
	}
}

func TestS3Store_PutError(t *testing.T) {
	s := NewS3Store(&fakeS3{err: errors.New("denied")}, "b", "")
	if _, err := s.Put(context.Background(), "k", []byte("{}")); err == nil || !strings.Contains(err.Error(), "denied") {
		t.Errorf("expected wrapped error, got %v", err)
	}
}

type fakeSQS struct {
	queueName string
	sent      []*sqs.SendMessageInput
}

func (f *fakeSQS) GetQueueUrl(_ context.Context, in *sqs.GetQueueUrlInput, _ ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error) {
	f.queueName = aws.ToString(in.QueueName)
	return &sqs.GetQueueUrlOutput{QueueUrl: aws.String("http://sqs.local/000000000000/" + f.queueName)}, nil
}

func (f *fakeSQS) SendMessage(_ context.Context, in *sqs.SendMessageInput, _ ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.sent = append(f.sent, in)
	return &sqs.SendMessageOutput{}, nil
}

func TestSQSNotifier(t *testing.T) {
	client := &fakeSQS{}
	n, err := NewSQSNotifier(context.Background(), client, "clinic-backups")
	if err != nil {
		t.Fatal(err)
	}
	if client.queueName != "clinic-backups" {
		t.Errorf("unexpected queue name %s", client.queueName)
	}

	obj := &Object{Key: "k.json", Location: "s3://b/k.json", Size: 2}
	if err := n.Notify(context.Background(), obj); err != nil {
		t.Fatal(err)
	}
	if len(client.sent) != 1 {
		t.Fatalf("expected one message, got %d", len(client.sent))
	}
	msg := client.sent[0]
	if aws.ToString(msg.QueueUrl) != "http://sqs.local/000000000000/clinic-backups" {
		t.Errorf("unexpected queue url %s", aws.ToString(msg.QueueUrl))
	}
	var got Object
	if err := json.Unmarshal([]byte(aws.ToString(msg.MessageBody)), &got); err != nil {
		t.Fatal(err)
	}
	if got.Key != "k.json" || got.Location != "s3://b/k.json" {
		t.Errorf("unexpected message %+v", got)
	}
}
