package exports_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/xuri/excelize/v2"

	"github.com/redhatinsights/spreadsheet-export-service/columns"
	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	eerrors "github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/exports"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
	"github.com/redhatinsights/spreadsheet-export-service/jobs"
	"github.com/redhatinsights/spreadsheet-export-service/logger"
	"github.com/redhatinsights/spreadsheet-export-service/models"
	"github.com/redhatinsights/spreadsheet-export-service/notify"
	"github.com/redhatinsights/spreadsheet-export-service/query"
	"github.com/redhatinsights/spreadsheet-export-service/render"
	"github.com/redhatinsights/spreadsheet-export-service/s3"
	"github.com/redhatinsights/spreadsheet-export-service/utils"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

func (r *recordingNotifier) events() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Event, 0, len(r.sent))
	for _, n := range r.sent {
		out = append(out, n.Event)
	}
	return out
}

type brokenQueue struct{}

func (brokenQueue) Enqueue(ctx context.Context, m jobs.Message) error {
	return stderrors.New("broker unavailable")
}

// unreachableDisk reads a little of every upload, then fails it.
type unreachableDisk struct {
	mu   sync.Mutex
	puts int
}

func (d *unreachableDisk) Name() string { return "s3" }

func (d *unreachableDisk) Put(ctx context.Context, key string, body io.Reader, contentType string) (int64, error) {
	d.mu.Lock()
	d.puts++
	d.mu.Unlock()
	n, _ := io.CopyN(io.Discard, body, 16)
	return n, stderrors.New("bucket unreachable")
}

func (d *unreachableDisk) URL(ctx context.Context, key string) (string, error) {
	return "", stderrors.New("bucket unreachable")
}

func (d *unreachableDisk) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return nil, stderrors.New("bucket unreachable")
}

func (d *unreachableDisk) calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.puts
}

// repliedNotifications exports notifications together with their replies.
type repliedNotifications struct{ models.Notifications }

func (repliedNotifications) Name() string { return "replied_notifications" }

func (repliedNotifications) ExportRelations() []string { return []string{"Replies"} }

func sheetRows(content []byte) [][]string {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	Expect(err).To(BeNil())
	defer f.Close()
	rows, err := f.GetRows("Export")
	Expect(err).To(BeNil())
	return rows
}

var _ = Describe("Route", func() {
	DescribeTable("picks the execution mode",
		func(count int, enabled bool, threshold int, expected exports.Mode) {
			Expect(exports.Route(count, enabled, threshold)).To(Equal(expected))
		},
		Entry("nothing matched", 0, true, 10, exports.NoData),
		Entry("nothing matched without a queue", 0, false, 10, exports.NoData),
		Entry("below the threshold", 5, true, 10, exports.Synchronous),
		Entry("at the threshold", 10, true, 10, exports.Synchronous),
		Entry("above the threshold", 11, true, 10, exports.Asynchronous),
		Entry("queue disabled", 5000, false, 10, exports.Synchronous),
	)

	It("names the modes", func() {
		Expect(exports.Synchronous.String()).To(Equal("synchronous"))
		Expect(exports.Asynchronous.String()).To(Equal("asynchronous"))
		Expect(exports.NoData.String()).To(Equal("no_data"))
	})
})

var _ = Describe("FileName", func() {
	now := time.Date(2024, 1, 31, 10, 4, 5, 0, time.UTC)

	DescribeTable("formats the download name",
		func(cfg config.FileConfig, entity string, selected bool, expected string) {
			Expect(exports.FileName(cfg, entity, selected, now)).To(Equal(expected))
		},
		Entry("defaults", config.FileConfig{}, "Export_Jobs", false, "export_jobs_simple_2024-01-31_10-04-05.xlsx"),
		Entry("explicit columns", config.FileConfig{}, "export_jobs", true, "export_jobs_advanced_2024-01-31_10-04-05.xlsx"),
		Entry("custom format", config.FileConfig{
			NameFormat:     "{datetime}-{resource}",
			DatetimeFormat: "20060102",
			Extension:      ".xlsx",
		}, "notifications", false, "20240131-notifications.xlsx"),
	)
})

var _ = Describe("Exporter", func() {
	var (
		ctx       context.Context
		exportDB  *models.ExportDB
		notifier  *recordingNotifier
		queue     *jobs.MemoryQueue
		exporter  *exports.Exporter
		pipeline  *jobs.Pipeline
		owner     entities.Owner
		limits    config.LimitsConfig
		storeRoot string
	)

	seed := func(n int, o entities.Owner) {
		for i := 0; i < n; i++ {
			Expect(testGormDB.Create(&models.Notification{
				OwnerUserID: o.UserID,
				OrgID:       o.OrgID,
				Level:       models.LevelInfo,
				Event:       "queued",
				Title:       "seeded",
			}).Error).To(BeNil())
		}
	}

	BeforeEach(func() {
		utils.CleanTestDB(testGormDB)
		ctx = context.Background()
		owner = entities.Owner{UserID: "alice", OrgID: "org-1"}
		limits = config.LimitsConfig{MaxRecords: 6, ChunkSize: 2, QueueThreshold: 3}
		storeRoot = GinkgoT().TempDir()

		registry := entities.NewRegistry(config.DefaultFallbackColumns())
		registry.MustRegister(models.ExportJobs{}, models.Notifications{})
		messages := config.Messages{Yes: "Yes", No: "No", UndefinedTitle: "Undefined Title"}

		pipeline = &jobs.Pipeline{
			DB:       testGormDB,
			Registry: registry,
			Builder:  query.NewBuilder(config.FiltersConfig{}, logger.Nop()),
			Resolver: columns.NewResolver(config.ColumnsConfig{MaxDefault: 5, MaxSelectable: 3, MinRequired: 1}, messages),
			Renderer: render.NewRenderer(config.DatesConfig{DateFormat: "02/01/2006 15:04", DateOnlyFormat: "02/01/2006"}, messages),
			Limits:   limits,
		}
		exportDB = &models.ExportDB{DB: testGormDB}
		notifier = &recordingNotifier{}
		queue = jobs.NewMemoryQueue(10)
		exporter = &exports.Exporter{
			Pipeline:   pipeline,
			Normalizer: filters.NewNormalizer(config.FiltersConfig{}, logger.Nop()),
			DB:         exportDB,
			Queue:      queue,
			Notifier:   notifier,
			Limits:     limits,
			QueueCfg:   config.QueueConfig{Enabled: true, Tries: 3, Timeout: time.Minute},
			File:       config.FileConfig{Extension: "xlsx", Directory: "exports"},
			Log:        logger.Nop(),
			Now:        func() time.Time { return time.Date(2024, 1, 31, 10, 0, 0, 0, time.UTC) },
		}
	})

	It("renders small exports inline", func() {
		seed(2, owner)
		seed(4, entities.Owner{UserID: "bob", OrgID: "org-1"})

		res, err := exporter.Export(ctx, exports.ExportRequest{Entity: "notifications", Owner: owner})
		Expect(err).To(BeNil())
		Expect(res.Mode).To(Equal(exports.Synchronous))
		Expect(res.Records).To(Equal(2))
		Expect(res.FileName).To(Equal("notifications_simple_2024-01-31_10-00-00.xlsx"))

		rows := sheetRows(res.Content)
		Expect(rows).To(HaveLen(3))
		Expect(rows[0]).To(Equal([]string{"ID", "Created At", "Updated At"}))
		Expect(notifier.events()).To(Equal([]notify.Event{notify.EventSuccess}))
		Expect(queue.Len()).To(Equal(0))
	})

	It("renders the selected columns", func() {
		seed(1, owner)

		res, err := exporter.Export(ctx, exports.ExportRequest{
			Entity:  "notifications",
			Owner:   owner,
			Columns: []entities.ColumnSpec{{Field: "id", Title: "Identifier"}},
		})
		Expect(err).To(BeNil())
		Expect(res.FileName).To(HavePrefix("notifications_advanced_"))
		Expect(sheetRows(res.Content)[0]).To(Equal([]string{"Identifier"}))
	})

	It("reports exports without data", func() {
		seed(3, entities.Owner{UserID: "bob", OrgID: "org-1"})

		res, err := exporter.Export(ctx, exports.ExportRequest{Entity: "notifications", Owner: owner})
		Expect(err).To(BeNil())
		Expect(res.Mode).To(Equal(exports.NoData))
		Expect(res.Content).To(BeEmpty())
		Expect(notifier.events()).To(Equal([]notify.Event{notify.EventNoData}))
	})

	It("rejects unknown entities", func() {
		_, err := exporter.Export(ctx, exports.ExportRequest{Entity: "invoices", Owner: owner})
		Expect(stderrors.Is(err, eerrors.ErrUnknownEntity)).To(BeTrue())
		Expect(notifier.events()).To(BeEmpty())
	})

	It("rejects too many columns", func() {
		_, err := exporter.Export(ctx, exports.ExportRequest{
			Entity: "export_jobs",
			Owner:  owner,
			Columns: []entities.ColumnSpec{
				{Field: "file_name"}, {Field: "status"}, {Field: "entity_type"}, {Field: "created_at"},
			},
		})
		Expect(eerrors.IsValidation(err)).To(BeTrue())
	})

	It("runs inline when the queue is disabled", func() {
		seed(5, owner)
		exporter.QueueCfg.Enabled = false

		res, err := exporter.Export(ctx, exports.ExportRequest{Entity: "notifications", Owner: owner})
		Expect(err).To(BeNil())
		Expect(res.Mode).To(Equal(exports.Synchronous))
		Expect(res.Records).To(Equal(5))
	})

	It("caps inline exports at the record limit", func() {
		seed(8, owner)
		exporter.QueueCfg.Enabled = false

		res, err := exporter.Export(ctx, exports.ExportRequest{Entity: "notifications", Owner: owner})
		Expect(err).To(BeNil())
		Expect(res.Records).To(Equal(6))
		Expect(sheetRows(res.Content)).To(HaveLen(7))
	})

	It("queues large exports and a worker completes them", func() {
		seed(5, owner)

		res, err := exporter.Export(ctx, exports.ExportRequest{Entity: "notifications", Owner: owner})
		Expect(err).To(BeNil())
		Expect(res.Mode).To(Equal(exports.Asynchronous))
		Expect(res.Job).NotTo(BeNil())
		Expect(res.Job.Status).To(Equal(models.Pending))
		Expect(queue.Len()).To(Equal(1))
		Expect(notifier.events()).To(Equal([]notify.Event{notify.EventQueued}))

		stored, err := exportDB.Get(ctx, res.Job.UUID)
		Expect(err).To(BeNil())
		Expect(stored.OwnerUserID).To(Equal("alice"))
		Expect(stored.FileName).To(Equal(res.FileName))

		msg, err := queue.Receive(ctx)
		Expect(err).To(BeNil())
		Expect(msg.JobUUID).To(Equal(res.Job.UUID))
		Expect(msg.Template).To(Equal(render.TemplateSimple))

		job := &jobs.ExportJob{
			Pipeline:  pipeline,
			DB:        exportDB,
			Disk:      s3.NewLocalDisk(storeRoot, "/storage", logger.Nop()),
			Notifier:  notifier,
			Directory: "exports",
			Log:       logger.Nop(),
		}
		runner := jobs.NewRunner(job, config.QueueConfig{Tries: 2, Timeout: time.Minute}, logger.Nop())
		Expect(runner.Handle(ctx, msg)).To(Succeed())

		done, err := exportDB.Get(ctx, res.Job.UUID)
		Expect(err).To(BeNil())
		Expect(done.Status).To(Equal(models.Completed))
		Expect(*done.TotalRecords).To(Equal(5))
		Expect(done.ProcessedRecords).To(Equal(5))
		Expect(done.StorageDisk).To(Equal("local"))
		Expect(done.StartedAt).NotTo(BeNil())
		Expect(done.CompletedAt).NotTo(BeNil())

		content, err := os.ReadFile(filepath.Join(storeRoot, *done.StoragePath))
		Expect(err).To(BeNil())
		Expect(sheetRows(content)).To(HaveLen(6))
		Expect(notifier.events()).To(Equal([]notify.Event{notify.EventQueued, notify.EventJobComplete}))
	})

	It("fails the job when it cannot be queued", func() {
		seed(5, owner)
		exporter.Queue = brokenQueue{}

		_, err := exporter.Export(ctx, exports.ExportRequest{Entity: "notifications", Owner: owner})
		Expect(err).To(MatchError(ContainSubstring("broker unavailable")))
		Expect(notifier.events()).To(Equal([]notify.Event{notify.EventError}))

		list, total, err := exportDB.APIList(ctx, models.User{Username: "alice", OrganizationID: "org-1"}, 10, 0)
		Expect(err).To(BeNil())
		Expect(total).To(Equal(int64(1)))
		Expect(list[0].Status).To(Equal(string(models.Failed)))
	})

	It("completes a queued job without a file when the rows are gone", func() {
		seed(5, owner)

		res, err := exporter.Export(ctx, exports.ExportRequest{Entity: "notifications", Owner: owner})
		Expect(err).To(BeNil())
		Expect(res.Mode).To(Equal(exports.Asynchronous))

		Expect(testGormDB.Where("owner_user_id = ?", owner.UserID).Delete(&models.Notification{}).Error).To(Succeed())

		msg, err := queue.Receive(ctx)
		Expect(err).To(BeNil())
		job := &jobs.ExportJob{
			Pipeline:  pipeline,
			DB:        exportDB,
			Disk:      s3.NewLocalDisk(storeRoot, "/storage", logger.Nop()),
			Notifier:  notifier,
			Directory: "exports",
			Log:       logger.Nop(),
		}
		Expect(jobs.NewRunner(job, config.QueueConfig{Tries: 2, Timeout: time.Minute}, logger.Nop()).Handle(ctx, msg)).To(Succeed())

		done, err := exportDB.Get(ctx, res.Job.UUID)
		Expect(err).To(BeNil())
		Expect(done.Status).To(Equal(models.Completed))
		Expect(*done.TotalRecords).To(Equal(0))
		Expect(done.StoragePath).To(BeNil())
		Expect(done.CompletedAt).NotTo(BeNil())
		Expect(notifier.events()).To(Equal([]notify.Event{notify.EventQueued, notify.EventNoData}))

		entries, err := os.ReadDir(storeRoot)
		Expect(err).To(BeNil())
		Expect(entries).To(BeEmpty())
	})

	It("fails a queued job once every try could not store the file", func() {
		seed(5, owner)

		res, err := exporter.Export(ctx, exports.ExportRequest{Entity: "notifications", Owner: owner})
		Expect(err).To(BeNil())
		msg, err := queue.Receive(ctx)
		Expect(err).To(BeNil())

		disk := &unreachableDisk{}
		job := &jobs.ExportJob{
			Pipeline:  pipeline,
			DB:        exportDB,
			Disk:      disk,
			Notifier:  notifier,
			Directory: "exports",
			Log:       logger.Nop(),
		}
		runner := jobs.NewRunner(job, config.QueueConfig{Tries: 3, Timeout: time.Minute, Backoff: time.Millisecond}, logger.Nop())

		finished := make(chan error, 1)
		go func() { finished <- runner.Handle(ctx, msg) }()
		Eventually(finished, 10*time.Second).Should(Receive(MatchError(ContainSubstring("bucket unreachable"))))
		Expect(disk.calls()).To(Equal(3))

		failed, err := exportDB.Get(ctx, res.Job.UUID)
		Expect(err).To(BeNil())
		Expect(failed.Status).To(Equal(models.Failed))
		Expect(*failed.ErrorMessage).To(ContainSubstring("bucket unreachable"))
		Expect(failed.StoragePath).To(BeNil())
		Expect(notifier.events()).To(Equal([]notify.Event{notify.EventQueued, notify.EventJobFailed}))
	})

	It("queues the entity relations with the job", func() {
		pipeline.Registry.MustRegister(repliedNotifications{})
		seed(5, owner)

		res, err := exporter.Export(ctx, exports.ExportRequest{Entity: "replied_notifications", Owner: owner})
		Expect(err).To(BeNil())
		Expect(res.Mode).To(Equal(exports.Asynchronous))

		msg, err := queue.Receive(ctx)
		Expect(err).To(BeNil())
		Expect(msg.Entity).To(Equal("replied_notifications"))
		Expect(msg.Relations).To(Equal([]string{"Replies"}))
	})
})
