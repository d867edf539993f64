package notify_test

import (
	"bytes"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"errwatch.dev/errwatch/v1/errwatchlib/logger"
	"errwatch.dev/errwatch/v1/errwatchlib/notify"
	"errwatch.dev/errwatch/v1/errwatchlib/testutils"
)

func TestNotify(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Notify Suite")
}

var _ = Describe("Banner board", func() {
	var (
		clock    *testutils.FakeClock
		renderer *testutils.RecordingRenderer
		board    *notify.Board
	)

	BeforeEach(func() {
		clock = testutils.NewFakeClock()
		renderer = testutils.NewRecordingRenderer()
		board = notify.NewBoard(logger.MockLogger(), renderer, notify.Config{Clock: clock})
	})

	Context("Showing banners", func() {
		It("renders one banner per call without coalescing", func() {
			first := board.Show("Network error")
			second := board.Show("Network error")

			Expect(first).NotTo(BeNil())
			Expect(second).NotTo(BeNil())
			Expect(first.Handle()).NotTo(Equal(second.Handle()))
			Expect(renderer.Messages()).To(Equal([]string{"Network error", "Network error"}))
			Expect(board.Active()).To(HaveLen(2))
			Expect(clock.Pending()).To(Equal(2))
		})
	})

	Context("Auto removal", func() {
		It("removes a banner once its five second window passes", func() {
			entry := board.Show("Service unavailable")

			clock.Advance(4999 * time.Millisecond)
			Expect(board.Active()).To(ConsistOf(entry.Handle()))
			Expect(renderer.Dismissed()).To(BeEmpty())

			clock.Advance(time.Millisecond)
			Expect(board.Active()).To(BeEmpty())
			Expect(renderer.Dismissed()).To(Equal([]notify.Handle{entry.Handle()}))
		})

		It("gives every banner its own window", func() {
			first := board.Show("first")
			clock.Advance(2 * time.Second)
			second := board.Show("second")

			By("expiring the first banner on its own schedule")
			clock.Advance(3 * time.Second)
			Expect(board.Active()).To(ConsistOf(second.Handle()))

			By("expiring the second banner two seconds later")
			clock.Advance(2 * time.Second)
			Expect(board.Active()).To(BeEmpty())
			Expect(renderer.Dismissed()).To(Equal([]notify.Handle{first.Handle(), second.Handle()}))
		})
	})

	Context("Manual dismissal", func() {
		It("removes immediately and leaves other banners alone", func() {
			first := board.Show("first")
			second := board.Show("second")

			first.Dismiss()
			Expect(board.Active()).To(ConsistOf(second.Handle()))
			Expect(clock.Pending()).To(Equal(1))

			clock.Advance(notify.DefaultDuration)
			Expect(board.Active()).To(BeEmpty())
			Expect(renderer.Dismissed()).To(Equal([]notify.Handle{first.Handle(), second.Handle()}))
		})

		It("is idempotent", func() {
			entry := board.Show("once")

			entry.Dismiss()
			entry.Dismiss()
			board.Remove(entry.Handle())
			clock.Advance(notify.DefaultDuration)

			Expect(renderer.Dismissed()).To(HaveLen(1))
		})

		It("ignores handles it never showed", func() {
			board.Remove("never-attached")

			var missing *notify.Entry
			missing.Dismiss()

			Expect(renderer.Dismissed()).To(BeEmpty())
		})
	})

	Context("Renderer failures", func() {
		It("logs a render error instead of propagating it", func() {
			failing := &testutils.MockRenderer{}
			failing.On("Render", "boom").Return(notify.Handle(""), errors.New("no display"))

			board := notify.NewBoard(logger.MockLogger(), failing, notify.Config{Clock: clock})
			Expect(board.Show("boom")).To(BeNil())
			Expect(board.Active()).To(BeEmpty())
			Expect(clock.Pending()).To(Equal(0))
		})

		It("survives a renderer that panics", func() {
			panicking := &testutils.MockRenderer{}
			panicking.On("Render", mock.Anything).Run(func(mock.Arguments) { panic("display gone") })

			board := notify.NewBoard(logger.MockLogger(), panicking, notify.Config{Clock: clock})
			Expect(func() { board.Show("boom") }).NotTo(Panic())
		})

		It("logs a dismiss error and still forgets the banner", func() {
			flaky := &testutils.MockRenderer{}
			flaky.On("Render", "flaky").Return(notify.Handle("h1"), nil)
			flaky.On("Dismiss", notify.Handle("h1")).Return(errors.New("already gone"))

			board := notify.NewBoard(logger.MockLogger(), flaky, notify.Config{Clock: clock})
			entry := board.Show("flaky")
			Expect(func() { entry.Dismiss() }).NotTo(Panic())
			Expect(board.Active()).To(BeEmpty())
			flaky.AssertNumberOfCalls(GinkgoT(), "Dismiss", 1)
		})
	})
})

var _ = Describe("Console renderer", func() {
	It("prints banners and their dismissal", func() {
		var out bytes.Buffer
		console := notify.NewConsoleRenderer(&out)

		handle, err := console.Render("The requested resource was not found.")
		Expect(err).To(BeNil())
		Expect(out.String()).To(ContainSubstring("The requested resource was not found."))

		Expect(console.Dismiss(handle)).To(Succeed())
		Expect(strings.Count(out.String(), "The requested resource was not found.")).To(Equal(2))

		By("ignoring a second dismissal")
		Expect(console.Dismiss(handle)).To(Succeed())
		Expect(strings.Count(out.String(), "The requested resource was not found.")).To(Equal(2))
	})
})

var _ = Describe("Websocket renderer", func() {
	It("mirrors show and dismiss events to connected pages", func() {
		renderer := notify.NewWebsocketRenderer(logger.MockLogger())
		server := httptest.NewServer(renderer)
		defer server.Close()

		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		Expect(err).To(BeNil())
		defer conn.Close()

		Eventually(renderer.Subscribers).Should(Equal(1))

		handle, err := renderer.Render("Too many requests")
		Expect(err).To(BeNil())

		var event notify.BannerEvent
		Expect(conn.ReadJSON(&event)).To(Succeed())
		Expect(event).To(Equal(notify.BannerEvent{Op: notify.ShowOp, Id: handle, Message: "Too many requests"}))

		Expect(renderer.Dismiss(handle)).To(Succeed())
		var dismissed notify.BannerEvent
		Expect(conn.ReadJSON(&dismissed)).To(Succeed())
		Expect(dismissed).To(Equal(notify.BannerEvent{Op: notify.DismissOp, Id: handle}))

		By("forgetting pages that disconnect")
		conn.Close()
		Eventually(renderer.Subscribers).Should(Equal(0))
	})
})

var _ = Describe("Multi renderer", func() {
	It("draws and removes the banner on every display", func() {
		first := testutils.NewRecordingRenderer()
		second := testutils.NewRecordingRenderer()
		multi := notify.NewMultiRenderer(logger.MockLogger(), first, second)

		handle, err := multi.Render("Network error")
		Expect(err).To(BeNil())
		Expect(first.Messages()).To(Equal([]string{"Network error"}))
		Expect(second.Messages()).To(Equal([]string{"Network error"}))

		Expect(multi.Dismiss(handle)).To(Succeed())
		Expect(first.Dismissed()).To(HaveLen(1))
		Expect(second.Dismissed()).To(HaveLen(1))

		By("refusing to dismiss twice")
		Expect(multi.Dismiss(handle)).NotTo(Succeed())
	})

	It("shows the banner when only some displays work", func() {
		working := testutils.NewRecordingRenderer()
		failing := &testutils.MockRenderer{}
		failing.On("Render", "Access denied").Return(notify.Handle(""), errors.New("no display"))

		multi := notify.NewMultiRenderer(logger.MockLogger(), failing, working)
		handle, err := multi.Render("Access denied")
		Expect(err).To(BeNil())
		Expect(handle).NotTo(BeEmpty())

		Expect(multi.Dismiss(handle)).To(Succeed())
		Expect(working.Dismissed()).To(HaveLen(1))
		failing.AssertNotCalled(GinkgoT(), "Dismiss", mock.Anything)
	})

	It("fails when no display works", func() {
		failing := &testutils.MockRenderer{}
		failing.On("Render", mock.Anything).Return(notify.Handle(""), errors.New("no display"))

		board := notify.NewBoard(logger.MockLogger(), notify.NewMultiRenderer(logger.MockLogger(), failing), notify.Config{})
		Expect(board.Show("Access denied")).To(BeNil())
		Expect(board.Active()).To(BeEmpty())
	})
})
