package sinks

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agile-enigma/bsky-multitool/pkg/pipeline"
)

var csvHeader = []string{
	"created_at", "action_type", "repo", "uri", "post_url",
	"author_handle", "author_display_name", "author_followers",
	"text", "langs", "hashtags", "mentions", "links",
	"reply_count", "repost_count", "like_count", "quote_count",
	"target_uri", "target_author_handle", "target_text",
}

// CSVWriter flattens records into rows of a single CSV file. The
// header is written once, on the first batch.
type CSVWriter struct {
	file       *os.File
	csv        *csv.Writer
	wroteTitle bool
}

// NewCSVWriter opens (or creates) the output file for appending. The
// header is suppressed when appending to a non-empty file.
func NewCSVWriter(path string) (*CSVWriter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return &CSVWriter{
		file:       file,
		csv:        csv.NewWriter(file),
		wroteTitle: info.Size() > 0,
	}, nil
}

// Name identifies the writer in logs and metrics.
func (w *CSVWriter) Name() string { return "csv" }

// WriteBatch appends one row per record.
func (w *CSVWriter) WriteBatch(ctx context.Context, records []*pipeline.EnrichedRecord) error {
	if !w.wroteTitle {
		if err := w.csv.Write(csvHeader); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
		w.wroteTitle = true
	}
	for _, rec := range records {
		if err := w.csv.Write(flattenRecord(rec)); err != nil {
			return fmt.Errorf("writing row for %s: %w", rec.URI, err)
		}
	}
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		return fmt.Errorf("flushing %s: %w", w.file.Name(), err)
	}
	return nil
}

// Close flushes and closes the file.
func (w *CSVWriter) Close() error {
	w.csv.Flush()
	if err := w.csv.Error(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func flattenRecord(rec *pipeline.EnrichedRecord) []string {
	row := make([]string, len(csvHeader))
	row[1] = string(rec.ActionType)
	row[2] = rec.Repo
	row[3] = rec.URI

	if rec.Post != nil {
		row[0] = rec.Post.CreatedAt
		row[4] = rec.Post.PostURL
		row[8] = rec.Post.Text
		row[9] = strings.Join(rec.Post.Langs, ";")
		row[10] = strings.Join(rec.Post.Hashtags, ";")
		row[11] = strings.Join(rec.Post.Mentions, ";")
		row[12] = strings.Join(rec.Post.Links, ";")
		row[13] = strconv.FormatInt(rec.Post.ReplyCount, 10)
		row[14] = strconv.FormatInt(rec.Post.RepostCount, 10)
		row[15] = strconv.FormatInt(rec.Post.LikeCount, 10)
		row[16] = strconv.FormatInt(rec.Post.QuoteCount, 10)
	} else if rec.Record != nil {
		row[0] = rec.Record.CreatedAt
	}
	if rec.Author != nil {
		row[5] = rec.Author.Handle
		row[6] = rec.Author.DisplayName
		row[7] = strconv.FormatInt(rec.Author.FollowersCount, 10)
	}
	if rec.Target != nil {
		row[17] = rec.Target.URI
		if rec.Target.Author != nil {
			row[18] = rec.Target.Author.Handle
		}
		if rec.Target.Post != nil {
			row[19] = rec.Target.Post.Text
		}
	}
	return row
}
