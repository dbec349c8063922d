package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	logx "framesched/pkg/logx"
)

func TestOpenDisabled(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"", "none", " NONE "} {
		st, err := Open(Config{Driver: driver}, logx.Nop())
		if err != nil || st != nil {
			t.Fatalf("Open(%q) = %v, %v; want nil, nil", driver, st, err)
		}
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected missing path error")
	}
}

func TestStores(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			cfg := Config{Driver: driver, Path: filepath.Join(t.TempDir(), "history.db"), BusyTimeout: time.Second}
			st, err := Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("Open: %v", err)
			}

			ctx := context.Background()
			at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
			for i := 1; i <= 5; i++ {
				r := TaskRecord{At: at.Add(time.Duration(i) * time.Second), Session: "s1", Kind: KindTask, ID: uint64(i), Name: "job", DurationMS: int64(i)}
				if i == 3 {
					r.Error = "boom"
				}
				if err := st.AppendTaskRecord(ctx, r); err != nil {
					t.Fatalf("Append: %v", err)
				}
			}

			got, err := st.RecentTaskRecords(ctx, 2)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 2 || got[0].ID != 5 || got[1].ID != 4 {
				t.Fatalf("Recent(2) = %+v", got)
			}
			if !got[0].At.Equal(at.Add(5 * time.Second)) {
				t.Fatalf("At = %v", got[0].At)
			}

			all, err := st.RecentTaskRecords(ctx, 0)
			if err != nil || len(all) != 5 {
				t.Fatalf("Recent(0) = %d records, err %v", len(all), err)
			}
			if all[2].Error != "boom" || all[0].Error != "" {
				t.Fatalf("errors not round-tripped: %+v", all)
			}
			if err := st.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			// Reopen: history survives.
			st, err = Open(cfg, logx.Nop())
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer st.Close()
			all, err = st.RecentTaskRecords(ctx, 10)
			if err != nil || len(all) != 5 || all[0].ID != 5 {
				t.Fatalf("after reopen: %+v, %v", all, err)
			}
		})
	}
}

func TestFileStoreRing(t *testing.T) {
	t.Parallel()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "h")}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	ctx := context.Background()
	for i := 1; i <= recentCap+10; i++ {
		if err := st.AppendTaskRecord(ctx, TaskRecord{Kind: KindTimer, ID: uint64(i)}); err != nil {
			t.Fatal(err)
		}
	}
	all, _ := st.RecentTaskRecords(ctx, 0)
	if len(all) != recentCap || all[0].ID != recentCap+10 || all[len(all)-1].ID != 11 {
		t.Fatalf("ring: len=%d first=%d last=%d", len(all), all[0].ID, all[len(all)-1].ID)
	}

	_ = st.Close()
	if err := st.AppendTaskRecord(ctx, TaskRecord{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("append after close: %v", err)
	}
}
