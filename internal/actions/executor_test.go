package actions

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"chronobot/internal/jobs"
	kit "chronobot/internal/transport"
	logx "chronobot/pkg/logx"
)

type fakePlatform struct {
	calls []string
	err   error
}

func (f *fakePlatform) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.calls = append(f.calls, "send "+text)
	return kit.MessageRef{ChatID: to.ChatID}, f.err
}

func (f *fakePlatform) SetRole(_ context.Context, _, _ int64, role string, grant bool) error {
	if grant {
		f.calls = append(f.calls, "grant "+role)
	} else {
		f.calls = append(f.calls, "revoke "+role)
	}
	return f.err
}

func (f *fakePlatform) Ban(context.Context, int64, int64) error {
	f.calls = append(f.calls, "ban")
	return f.err
}

func (f *fakePlatform) Unban(context.Context, int64, int64) error {
	f.calls = append(f.calls, "unban")
	return f.err
}

func (f *fakePlatform) SetChatPhoto(_ context.Context, _ int64, path string) error {
	f.calls = append(f.calls, "photo "+filepath.Base(path))
	return f.err
}

var t0 = time.Date(2030, 3, 1, 0, 0, 0, 0, time.UTC)

func job(a jobs.Action, at time.Time, repeat jobs.RepeatPolicy) jobs.Job {
	return jobs.Job{ID: "j1", CreatedAt: t0, ExecuteAt: at, Repeat: repeat, Action: a}
}

func TestExecuteDispatchesByKind(t *testing.T) {
	p := &fakePlatform{}
	ex := New(PortsFrom(p), logx.Nop())

	list := []jobs.Action{
		jobs.Echo{ChatID: 1, Text: "hello"},
		jobs.Echo{ChatID: 1, Text: "stand up", RequestedBy: 7},
		jobs.RoleAddition{ChatID: 1, UserID: 2, Role: "muted"},
		jobs.RoleRemoval{ChatID: 1, UserID: 2, Role: "muted"},
		jobs.Unban{ChatID: 1, UserID: 2},
	}
	for _, a := range list {
		if err := ex.Execute(context.Background(), job(a, t0, jobs.Once())); err != nil {
			t.Fatalf("%s: %v", a.Kind(), err)
		}
	}
	want := []string{"send hello", "send ⏰ stand up", "grant muted", "revoke muted", "unban"}
	if diff := cmp.Diff(want, p.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}

func TestExecuteReportsPlatformError(t *testing.T) {
	boom := errors.New("forbidden")
	ex := New(PortsFrom(&fakePlatform{err: boom}), logx.Nop())
	err := ex.Execute(context.Background(), job(jobs.Unban{ChatID: 1, UserID: 2}, t0, jobs.Once()))
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestExecuteWithoutPort(t *testing.T) {
	ex := New(Ports{}, logx.Nop())
	cases := []jobs.Action{
		jobs.Echo{ChatID: 1, Text: "x"},
		jobs.RoleRemoval{ChatID: 1, UserID: 2, Role: "muted"},
		jobs.Unban{ChatID: 1, UserID: 2},
		jobs.BannerRotation{ChatID: 1, Dir: t.TempDir()},
	}
	for _, a := range cases {
		if err := ex.Execute(context.Background(), job(a, t0, jobs.Once())); !errors.Is(err, ErrNoPort) {
			t.Errorf("%s: err = %v, want ErrNoPort", a.Kind(), err)
		}
	}
}

func TestExecuteNilAction(t *testing.T) {
	ex := New(Ports{}, logx.Nop())
	if err := ex.Execute(context.Background(), jobs.Job{ID: "x"}); !errors.Is(err, jobs.ErrNoAction) {
		t.Fatalf("err = %v", err)
	}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("img"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestListBannersFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "c.PNG", "a.jpg", "notes.txt", "b.jpeg")
	if err := os.Mkdir(filepath.Join(dir, "d.png"), 0o755); err != nil {
		t.Fatal(err)
	}

	got, err := ListBanners(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{filepath.Join(dir, "a.jpg"), filepath.Join(dir, "b.jpeg"), filepath.Join(dir, "c.PNG")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("banners (-want +got):\n%s", diff)
	}

	if _, err := ListBanners(t.TempDir()); !errors.Is(err, ErrNoBanners) {
		t.Fatalf("empty dir err = %v", err)
	}
}

func TestBannerIndex(t *testing.T) {
	day := 24 * time.Hour
	base := time.Unix(0, 0).UTC()
	cases := []struct {
		at   time.Time
		per  time.Duration
		n    int
		want int
	}{
		{base, day, 3, 0},
		{base.Add(day), day, 3, 1},
		{base.Add(5 * day), day, 3, 2},
		{base.Add(5*day + 23*time.Hour), day, 3, 2},
		{base.Add(6 * time.Hour), time.Hour, 4, 2},
		{base.Add(-day), day, 3, 2},
		{base.Add(day), 0, 3, 1},
		{base, day, 0, 0},
	}
	for _, tc := range cases {
		if got := BannerIndex(tc.at, tc.per, tc.n); got != tc.want {
			t.Errorf("BannerIndex(%s, %s, %d) = %d, want %d", tc.at, tc.per, tc.n, got, tc.want)
		}
	}
}

func TestRotateBannerWalksImagesDaily(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, "1.png", "2.png", "3.png")
	p := &fakePlatform{}
	ex := New(PortsFrom(p), logx.Nop())

	start := time.Unix(0, 0).UTC().Add(30 * 24 * time.Hour) // slot 30, 30 mod 3 = 0
	for i := 0; i < 4; i++ {
		at := start.Add(time.Duration(i) * 24 * time.Hour)
		a := jobs.BannerRotation{ChatID: 9, Dir: dir}
		if err := ex.Execute(context.Background(), job(a, at, jobs.Daily())); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"photo 1.png", "photo 2.png", "photo 3.png", "photo 1.png"}
	if diff := cmp.Diff(want, p.calls); diff != "" {
		t.Fatalf("calls (-want +got):\n%s", diff)
	}
}
