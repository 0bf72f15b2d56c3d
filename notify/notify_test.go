package notify_test

import (
	"context"
	"encoding/json"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/models"
	"github.com/redhatinsights/spreadsheet-export-service/notify"
)

type recorder struct {
	sent []notify.Notification
	err  error
}

func (r *recorder) Notify(ctx context.Context, n notify.Notification) error {
	r.sent = append(r.sent, n)
	return r.err
}

type store struct {
	rows []*models.Notification
}

func (s *store) CreateNotification(ctx context.Context, n *models.Notification) error {
	s.rows = append(s.rows, n)
	return nil
}

var owner = entities.Owner{UserID: "batman", OrgID: "5678"}

var _ = Describe("Composer", func() {
	composer := notify.NewComposer("en")

	DescribeTable("composes titles and bodies",
		func(n notify.Notification, title, body string) {
			out := composer.Compose(n)
			Expect(out.Title).To(Equal(title))
			Expect(out.Body).To(Equal(body))
		},
		Entry("success", notify.Success(owner, "orders", "orders.xlsx", 2500),
			"Export Complete", "2,500 records exported successfully."),
		Entry("no data", notify.NoData(owner, "orders"),
			"No records found", "There is no data to export with the applied filters."),
		Entry("error", notify.Error(owner, "orders", "orders.xlsx", errors.New("boom")),
			"Export Failed", "An error occurred during processing: boom"),
		Entry("queued", notify.Queued(owner, "orders", "orders.xlsx", "abc"),
			"Export Queued", "Your export is being processed in the background. You will be notified when it is ready."),
		Entry("job complete", notify.JobComplete(owner, "orders", "orders.xlsx", "abc", 12000, "https://dl"),
			"Export Complete", "Your export with 12,000 records is ready. File: orders.xlsx"),
		Entry("job failed", notify.JobFailed(owner, "orders", "orders.xlsx", "abc", "timeout"),
			"Export Failed", "The export orders.xlsx failed to process. Please try again."),
	)
})

var _ = Describe("Filtered", func() {
	It("delivers only enabled events", func() {
		next := &recorder{}
		f := notify.NewFiltered(next, config.NotificationsConfig{
			ShowSuccess: true,
			ShowNoData:  false,
			ShowErrors:  true,
		}, config.Messages{Language: "en"})

		Expect(f.Notify(context.Background(), notify.Success(owner, "orders", "o.xlsx", 1))).To(Succeed())
		Expect(f.Notify(context.Background(), notify.NoData(owner, "orders"))).To(Succeed())
		Expect(f.Notify(context.Background(), notify.Queued(owner, "orders", "o.xlsx", "abc"))).To(Succeed())

		Expect(next.sent).To(HaveLen(1))
		Expect(next.sent[0].Event).To(Equal(notify.EventSuccess))
		Expect(next.sent[0].Body).To(Equal("1 records exported successfully."))
	})
})

var _ = Describe("Multi", func() {
	It("delivers to every notifier and joins the errors", func() {
		a := &recorder{err: errors.New("kafka down")}
		b := &recorder{}
		err := notify.Multi{a, b}.Notify(context.Background(), notify.NoData(owner, "orders"))
		Expect(err).To(MatchError(ContainSubstring("kafka down")))
		Expect(a.sent).To(HaveLen(1))
		Expect(b.sent).To(HaveLen(1))
	})
})

var _ = Describe("Database", func() {
	It("stores the notification for the owner", func() {
		s := &store{}
		n := notify.NewComposer("en").Compose(notify.JobComplete(owner, "orders", "orders.xlsx", "abc", 3, "https://dl"))
		Expect(notify.Database{Store: s}.Notify(context.Background(), n)).To(Succeed())

		Expect(s.rows).To(HaveLen(1))
		row := s.rows[0]
		Expect(row.OwnerUserID).To(Equal("batman"))
		Expect(row.OrgID).To(Equal("5678"))
		Expect(row.Level).To(Equal(models.LevelSuccess))
		Expect(row.Event).To(Equal("job_complete"))
		Expect(row.Title).To(Equal("Export Complete"))

		var data map[string]any
		Expect(json.Unmarshal(row.Data, &data)).To(Succeed())
		Expect(data).To(HaveKeyWithValue("url", "https://dl"))
		Expect(data).To(HaveKeyWithValue("job_uuid", "abc"))
	})

	It("skips notifications without an owner", func() {
		s := &store{}
		Expect(notify.Database{Store: s}.Notify(context.Background(), notify.NoData(entities.Owner{}, "orders"))).To(Succeed())
		Expect(s.rows).To(BeEmpty())
	})
})
