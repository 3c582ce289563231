package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"

	"github.com/splax/minivercel/pkg/build"
)

const testRecord = `{"projectId":"foo","repoUrl":"https://example.com/repo.git"}`

func TestEnqueuePushesWireRecord(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectLPush("build-queue", testRecord).SetVal(1)

	q := New(db, "build-queue")
	err := q.Enqueue(context.Background(), build.Job{ProjectID: "foo", RepoURL: "https://example.com/repo.git"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnqueueRejectsIncompleteJob(t *testing.T) {
	db, mock := redismock.NewClientMock()
	q := New(db, "build-queue")
	if err := q.Enqueue(context.Background(), build.Job{ProjectID: "foo"}); !errors.Is(err, build.ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("no redis call expected: %v", err)
	}
}

func TestDequeueMovesIntoProcessingList(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectBLMove("build-queue", "build-queue:processing:w1", "RIGHT", "LEFT", 0).SetVal(testRecord)
	mock.ExpectLRem("build-queue:processing:w1", 1, testRecord).SetVal(1)

	c := NewConsumer(db, "build-queue", "w1")
	d, err := c.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if d.Job.ProjectID != "foo" || d.Job.RepoURL != "https://example.com/repo.git" {
		t.Fatalf("unexpected job %+v", d.Job)
	}
	if err := c.Ack(context.Background(), d); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDequeueDropsMalformedRecord(t *testing.T) {
	db, mock := redismock.NewClientMock()
	bad := `{"projectSlug":"foo"}`
	mock.ExpectBLMove("build-queue", "build-queue:processing:w1", "RIGHT", "LEFT", 0).SetVal(bad)
	mock.ExpectLRem("build-queue:processing:w1", 1, bad).SetVal(1)

	c := NewConsumer(db, "build-queue", "w1")
	if _, err := c.Dequeue(context.Background()); !errors.Is(err, build.ErrMalformedJob) {
		t.Fatalf("expected ErrMalformedJob, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecoverRequeuesInFlightRecords(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectLMove("build-queue:processing:w1", "build-queue", "LEFT", "RIGHT").SetVal(testRecord)
	mock.ExpectLMove("build-queue:processing:w1", "build-queue", "LEFT", "RIGHT").SetVal(testRecord)
	mock.ExpectLMove("build-queue:processing:w1", "build-queue", "LEFT", "RIGHT").RedisNil()

	c := NewConsumer(db, "build-queue", "w1")
	moved, err := c.Recover(context.Background())
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if moved != 2 {
		t.Fatalf("expected 2 recovered jobs, got %d", moved)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestDequeueSurfacesRedisErrors(t *testing.T) {
	db, mock := redismock.NewClientMock()
	mock.ExpectBLMove("build-queue", "build-queue:processing:w1", "RIGHT", "LEFT", 0).SetErr(redis.ErrClosed)

	c := NewConsumer(db, "build-queue", "w1")
	if _, err := c.Dequeue(context.Background()); !errors.Is(err, redis.ErrClosed) {
		t.Fatalf("expected closed client error, got %v", err)
	}
}
