package stream_test

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/redhatinsights/spreadsheet-export-service/config"
	"github.com/redhatinsights/spreadsheet-export-service/entities"
	"github.com/redhatinsights/spreadsheet-export-service/errors"
	"github.com/redhatinsights/spreadsheet-export-service/filters"
	"github.com/redhatinsights/spreadsheet-export-service/logger"
	"github.com/redhatinsights/spreadsheet-export-service/models"
	"github.com/redhatinsights/spreadsheet-export-service/query"
	"github.com/redhatinsights/spreadsheet-export-service/stream"
	"github.com/redhatinsights/spreadsheet-export-service/utils"
)

var _ = Describe("Cursor", func() {
	var (
		ctx   context.Context
		plan  *query.Plan
		owner = entities.Owner{UserID: "batman", OrgID: "5678"}
	)

	titles := func(b stream.Batch) []string {
		out := make([]string, 0, len(b.Records))
		for _, r := range b.Records {
			out = append(out, r.(*models.Notification).Title)
		}
		return out
	}

	BeforeEach(func() {
		ctx = context.Background()
		utils.CleanTestDB(testGormDB)

		base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
		for i := 0; i < 7; i++ {
			Expect(testGormDB.Create(&models.Notification{
				OwnerUserID: owner.UserID,
				OrgID:       owner.OrgID,
				Level:       models.LevelInfo,
				Event:       "queued",
				Title:       fmt.Sprintf("n%d", i),
				CreatedAt:   base.Add(time.Duration(i) * time.Hour),
			}).Error).To(Succeed())
		}

		registry := entities.NewRegistry(config.DefaultFallbackColumns())
		registry.MustRegister(models.Notifications{})
		d, err := registry.Lookup("notifications")
		Expect(err).To(BeNil())

		builder := query.NewBuilder(config.FiltersConfig{}, logger.Nop())
		plan, _, err = builder.Build(d, filters.Set{}, query.Options{SortDirection: "asc", Owner: &owner})
		Expect(err).To(BeNil())
	})

	It("reads every record in order, one chunk at a time", func() {
		cursor := stream.Open(testGormDB, plan, 3, 0)

		var chunks [][]string
		var offsets []int
		Expect(cursor.Each(ctx, func(b stream.Batch) error {
			chunks = append(chunks, titles(b))
			offsets = append(offsets, b.Offset)
			return nil
		})).To(Succeed())

		Expect(chunks).To(Equal([][]string{{"n0", "n1", "n2"}, {"n3", "n4", "n5"}, {"n6"}}))
		Expect(offsets).To(Equal([]int{0, 3, 6}))
		Expect(cursor.Streamed()).To(Equal(7))

		_, err := cursor.Next(ctx)
		Expect(err).To(Equal(io.EOF))
	})

	It("stops at the limit", func() {
		cursor := stream.Open(testGormDB, plan, 3, 5)

		first, err := cursor.Next(ctx)
		Expect(err).To(BeNil())
		Expect(first.Records).To(HaveLen(3))
		second, err := cursor.Next(ctx)
		Expect(err).To(BeNil())
		Expect(titles(second)).To(Equal([]string{"n3", "n4"}))
		_, err = cursor.Next(ctx)
		Expect(err).To(Equal(io.EOF))
		Expect(cursor.Streamed()).To(Equal(5))
	})

	It("keeps reporting the error that stopped it", func() {
		cursor := stream.Open(testGormDB, plan, 2, 0)
		boom := stderrors.New("sheet full")

		err := cursor.Each(ctx, func(b stream.Batch) error { return boom })
		Expect(err).To(Equal(boom))
		_, err = cursor.Next(ctx)
		Expect(err).To(Equal(boom))
	})

	It("fails on a cancelled context", func() {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := stream.Open(testGormDB, plan, 2, 0).Next(cancelled)
		Expect(err).To(HaveOccurred())
		Expect(err).NotTo(Equal(io.EOF))
	})

	Describe("Count", func() {
		It("counts the owner's records", func() {
			n, err := stream.Count(ctx, testGormDB, plan)
			Expect(err).To(BeNil())
			Expect(n).To(Equal(7))
		})

		It("reports no data for other owners", func() {
			plan.Owner = &entities.Owner{UserID: "robin", OrgID: "5678"}
			_, err := stream.Count(ctx, testGormDB, plan)
			Expect(err).To(Equal(errors.ErrNoData))
		})
	})
})

var _ = DescribeTable("Capped",
	func(count, limit, expected int) {
		Expect(stream.Capped(count, limit)).To(Equal(expected))
	},
	Entry("below the cap", 5, 10, 5),
	Entry("above the cap", 15, 10, 10),
	Entry("no cap", 15, 0, 15),
)
