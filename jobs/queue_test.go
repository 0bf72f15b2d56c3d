package jobs_test

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
	"github.com/redhatinsights/spreadsheet-export-service/jobs"
	"github.com/redhatinsights/spreadsheet-export-service/logger"
)

func fullMessage() jobs.Message {
	from := "2024-01-01"
	return jobs.Message{
		JobUUID: uuid.New(),
		Entity:  "export_jobs",
		Filters: filters.NewSet(
			filters.Filter{Name: "status", Value: filters.Value{Kind: filters.List, List: []any{"failed", "completed"}}},
			filters.Filter{Name: "created_at", Value: filters.Value{Kind: filters.Range, Range: filters.Bounds{From: &from}}},
		),
		FileName:      "export_jobs_advanced_2024-01-02_10-00-00.xlsx",
		Template:      "default-advanced",
		Columns:       []entities.ColumnSpec{{Field: "status", Title: "Status"}},
		SortField:     "created_at",
		SortDirection: "asc",
		Owner:         entities.Owner{UserID: "batman", OrgID: "5678"},
		RequestID:     "req-1",
	}
}

var _ = Describe("Message", func() {
	It("survives encoding", func() {
		m := fullMessage()
		data, err := m.Encode()
		Expect(err).NotTo(HaveOccurred())

		decoded, err := jobs.Decode(data)
		Expect(err).NotTo(HaveOccurred())
		Expect(decoded.JobUUID).To(Equal(m.JobUUID))
		Expect(decoded.Filters.Raw()).To(Equal(m.Filters.Raw()))
		Expect(decoded.Columns).To(Equal(m.Columns))
		Expect(decoded.Owner).To(Equal(m.Owner))
	})

	It("rejects messages without a job", func() {
		_, err := jobs.Decode([]byte(`{"entity":"export_jobs"}`))
		Expect(err).To(MatchError(ContainSubstring("no job uuid")))
		_, err = jobs.Decode([]byte(`not json`))
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("MemoryQueue", func() {
	It("hands messages over in order", func() {
		q := jobs.NewMemoryQueue(2)
		first, second := fullMessage(), fullMessage()
		Expect(q.Enqueue(context.Background(), first)).To(Succeed())
		Expect(q.Enqueue(context.Background(), second)).To(Succeed())
		Expect(q.Len()).To(Equal(2))

		got, err := q.Receive(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(got.JobUUID).To(Equal(first.JobUUID))
	})

	It("refuses new messages without waiting when full", func() {
		q := jobs.NewMemoryQueue(1)
		Expect(q.Enqueue(context.Background(), fullMessage())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		start := time.Now()
		Expect(q.Enqueue(ctx, fullMessage())).To(MatchError(jobs.ErrQueueFull))
		Expect(time.Since(start)).To(BeNumerically("<", 100*time.Millisecond))
		Expect(q.Len()).To(Equal(1))
	})

	It("gives up when the context ends", func() {
		q := jobs.NewMemoryQueue(1)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		_, err := q.Receive(ctx)
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(q.Enqueue(ctx, fullMessage())).To(MatchError(context.DeadlineExceeded))
		Expect(q.Len()).To(BeZero())
	})
})

var _ = Describe("RedisQueue", func() {
	var (
		server *miniredis.Miniredis
		client *redis.Client
		queue  *jobs.RedisQueue
	)

	BeforeEach(func() {
		server = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: server.Addr()})
		queue = jobs.NewRedisQueue(client, "exports", logger.Nop())
		DeferCleanup(client.Close)
	})

	It("pushes onto the named list", func() {
		Expect(queue.Enqueue(context.Background(), fullMessage())).To(Succeed())
		Expect(server.Exists("queues:exports")).To(BeTrue())
		n, err := queue.Len(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(1))
	})

	It("delivers messages first in first out", func() {
		first, second := fullMessage(), fullMessage()
		Expect(queue.Enqueue(context.Background(), first)).To(Succeed())
		Expect(queue.Enqueue(context.Background(), second)).To(Succeed())

		got, err := queue.Receive(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(got.JobUUID).To(Equal(first.JobUUID))
		Expect(got.Filters.Names()).To(Equal([]string{"created_at", "status"}))

		got, err = queue.Receive(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(got.JobUUID).To(Equal(second.JobUUID))
	})

	It("reports undecodable payloads", func() {
		_, err := server.Lpush("queues:exports", "garbage")
		Expect(err).NotTo(HaveOccurred())
		_, err = queue.Receive(context.Background())
		Expect(err).To(MatchError(ContainSubstring("decode")))
	})
})

type stuckStore struct {
	cutoff  time.Time
	message string
	n       int64
}

func (s *stuckStore) FailStuck(ctx context.Context, startedBefore time.Time, message string) (int64, error) {
	s.cutoff = startedBefore
	s.message = message
	return s.n, nil
}

var _ = Describe("Janitor", func() {
	It("fails jobs older than every attempt could take", func() {
		store := &stuckStore{n: 2}
		j := jobs.NewJanitor(store, config.QueueConfig{Tries: 3, Timeout: 10 * time.Minute, Backoff: 5 * time.Second}, logger.Nop())
		Expect(j.MaxAge).To(Equal(3 * (10*time.Minute + 15*time.Second)))

		before := time.Now()
		n, err := j.Sweep(context.Background())
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(2))
		Expect(store.cutoff).To(BeTemporally("~", before.Add(-j.MaxAge), time.Second))
		Expect(store.message).To(ContainSubstring("did not finish"))
	})

	It("rejects an invalid schedule", func() {
		j := jobs.NewJanitor(&stuckStore{}, config.QueueConfig{Tries: 1}, logger.Nop())
		Expect(j.Schedule(context.Background(), "not a schedule")).To(MatchError(ContainSubstring("invalid janitor schedule")))
	})
})

type countingHandler struct {
	mu   sync.Mutex
	seen []uuid.UUID
	n    atomic.Int32
}

func (c *countingHandler) Handle(ctx context.Context, m jobs.Message) error {
	c.mu.Lock()
	c.seen = append(c.seen, m.JobUUID)
	c.mu.Unlock()
	c.n.Add(1)
	return nil
}

var _ = Describe("Worker", func() {
	It("drains the source until cancelled", func() {
		q := jobs.NewMemoryQueue(10)
		for i := 0; i < 5; i++ {
			Expect(q.Enqueue(context.Background(), fullMessage())).To(Succeed())
		}
		h := &countingHandler{}
		w := jobs.NewWorker(q, h, 2, 0, logger.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- w.Run(ctx) }()

		Eventually(h.n.Load).Should(BeEquivalentTo(5))
		cancel()
		Eventually(done).Should(Receive(BeNil()))
	})
})
