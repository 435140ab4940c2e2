package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/notification_backend/config"
	"bitbucket.org/mmdatafocus/notification_backend/models"
	"bitbucket.org/mmdatafocus/notification_backend/models/reports"
	"bitbucket.org/mmdatafocus/notification_backend/utils"
)

const dateLayout = "2006-01-02"

func main() {
	from := flag.String("from", "", "Start date (YYYY-MM-DD), inclusive. Defaults to 7 days before -to.")
	to := flag.String("to", "", "End date (YYYY-MM-DD), inclusive. Defaults to today.")
	tz := flag.String("tz", "", "IANA timezone for dates and timestamps. Defaults to the business timezone, then UTC.")
	out := flag.String("out", "", "Write the xlsx to this path. Defaults to dispatch-report-<from>-<to>.xlsx unless -upload is set.")
	upload := flag.Bool("upload", false, "Upload the report to GCS_REPORT_BUCKET (or GCS_BUCKET).")
	prefix := flag.String("prefix", "dispatch-reports", "Object name prefix for -upload.")
	signTTL := flag.Duration("sign-ttl", 0, "When uploading, also print a signed download URL valid for this long.")
	flag.Parse()

	ctx := context.Background()
	db, err := config.ConnectDatabaseWithRetry(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database: %v\n", err)
		os.Exit(1)
	}

	loc := time.UTC
	if strings.TrimSpace(*tz) != "" {
		if loc, err = time.LoadLocation(strings.TrimSpace(*tz)); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -tz: %v\n", err)
			os.Exit(2)
		}
	} else if settings, err := models.NewGormDirectory(db).GetBusinessSettings(ctx); err == nil && settings != nil {
		loc = settings.Location()
	}

	start, end, err := reportRange(*from, *to, time.Now(), loc)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	repo := models.NewDispatchRepository(db)
	counts, err := repo.CountByStatus(ctx, start, end)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	recs, err := repo.ListCreatedBetween(ctx, start, end)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	data, err := reports.DispatchReport{From: start, To: end, Location: loc, Counts: counts, Dispatches: recs}.Bytes()
	if err != nil {
		fmt.Fprintf(os.Stderr, "build report: %v\n", err)
		os.Exit(1)
	}
	name := fmt.Sprintf("dispatch-report-%s-%s.xlsx", start.In(loc).Format(dateLayout), end.Add(-time.Nanosecond).In(loc).Format(dateLayout))
	fmt.Printf("dispatches=%d groups=%d\n", len(recs), len(counts))

	if *out != "" || !*upload {
		path := *out
		if path == "" {
			path = name
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "write %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Println("wrote", path)
	}

	if *upload {
		bucket, err := utils.ReportBucket()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		object := strings.Trim(*prefix, "/") + "/" + name
		uri, err := utils.UploadBytesToGCS(ctx, bucket, object, data, reports.XlsxContentType)
		if err != nil {
			fmt.Fprintf(os.Stderr, "upload: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("uploaded", uri)

		if *signTTL > 0 {
			signed, err := utils.SignDownload(ctx, bucket, object, *signTTL)
			if err != nil {
				fmt.Fprintf(os.Stderr, "sign: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("download %s (expires %s)\n", signed.URL, signed.ExpiresAt.Format(time.RFC3339))
		}
	}
}

// reportRange turns inclusive local dates into the half-open [start, end) range.
func reportRange(from, to string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	var endDay time.Time
	if strings.TrimSpace(to) == "" {
		n := now.In(loc)
		endDay = time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	} else {
		d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(to), loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -to: %w", err)
		}
		endDay = d
	}

	startDay := endDay.AddDate(0, 0, -7)
	if strings.TrimSpace(from) != "" {
		d, err := time.ParseInLocation(dateLayout, strings.TrimSpace(from), loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid -from: %w", err)
		}
		startDay = d
	}
	if startDay.After(endDay) {
		return time.Time{}, time.Time{}, fmt.Errorf("-from %s is after -to %s", startDay.Format(dateLayout), endDay.Format(dateLayout))
	}
	return startDay, endDay.AddDate(0, 0, 1), nil
}
