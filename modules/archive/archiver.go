package archive

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/kolesa-team/go-webp/encoder"
	"github.com/kolesa-team/go-webp/webp"
	"github.com/supabase-community/supabase-go"

	"labubufy-server/modules/common/config"
	"labubufy-server/modules/common/model"
	"labubufy-server/modules/common/replicate"
)

const (
	resultsBucket = "labubufy-results"
	resultsTable  = "labubufy_results"
	webpQuality   = 90
)

// Archiver copies the final composite out of the gateway's short-lived output
// URL into our own storage, re-encoded as WebP, and records it. Runs as a
// completion hook: best-effort, never touches session state.
type Archiver struct {
	supabase   *supabase.Client
	httpClient *http.Client
}

// NewArchiver returns nil when Supabase is not configured; completion then
// simply skips archiving.
func NewArchiver() *Archiver {
	cfg := config.GetConfig()
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceKey == "" {
		log.Println("⚠️  [Archive] Supabase not configured, result archiving disabled")
		return nil
	}

	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		log.Printf("❌ [Archive] Failed to create Supabase client: %v", err)
		return nil
	}

	return &Archiver{
		supabase:   supabaseClient,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// ArchiveResult downloads, converts and stores the session's final output.
func (a *Archiver) ArchiveResult(ctx context.Context, sess *model.GenerationSession) {
	if sess.FinalOutput == "" {
		return
	}

	log.Printf("📦 [Archive] Archiving result for session %s", sess.ID)

	raw, err := a.download(ctx, sess.FinalOutput)
	if err != nil {
		log.Printf("⚠️  [Archive] Download failed for session %s: %v", sess.ID, err)
		return
	}

	webpData, err := convertToWebP(raw)
	if err != nil {
		log.Printf("⚠️  [Archive] WebP conversion failed for session %s: %v", sess.ID, err)
		return
	}

	userID := sess.UserID
	if userID == "" {
		userID = "anonymous"
	}
	fileName := fmt.Sprintf("labubufy_%s_%d.webp", sess.ID, time.Now().Unix())
	filePath := fmt.Sprintf("user-%s/%s", userID, fileName)

	if err := a.upload(ctx, filePath, webpData); err != nil {
		log.Printf("⚠️  [Archive] Upload failed for session %s: %v", sess.ID, err)
		return
	}

	a.insertRecord(sess, filePath, int64(len(webpData)))
	log.Printf("✅ [Archive] Session %s archived: %s (%d bytes)", sess.ID, filePath, len(webpData))
}

func (a *Archiver) download(ctx context.Context, url string) ([]byte, error) {
	var data []byte
	err := replicate.DoWithRetry(ctx, "Result Download", func() error {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return err
		}
		resp, err := a.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("download failed with status %d", resp.StatusCode)
		}

		data, err = io.ReadAll(resp.Body)
		return err
	})
	return data, err
}

// convertToWebP re-encodes a PNG or JPEG composite as lossy WebP.
func convertToWebP(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	options, err := encoder.NewLossyEncoderOptions(encoder.PresetDefault, webpQuality)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebP encoder options: %w", err)
	}

	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, options); err != nil {
		return nil, fmt.Errorf("failed to encode WebP: %w", err)
	}
	return buf.Bytes(), nil
}

func (a *Archiver) upload(ctx context.Context, filePath string, webpData []byte) error {
	cfg := config.GetConfig()
	uploadURL := fmt.Sprintf("%s/storage/v1/object/%s/%s", cfg.SupabaseURL, resultsBucket, filePath)

	req, err := http.NewRequestWithContext(ctx, "POST", uploadURL, bytes.NewReader(webpData))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+cfg.SupabaseServiceKey)
	req.Header.Set("Content-Type", "image/webp")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (a *Archiver) insertRecord(sess *model.GenerationSession, filePath string, fileSize int64) {
	record := map[string]interface{}{
		"session_id":     sess.ID,
		"user_id":        sess.UserID,
		"selection_id":   sess.SelectionID,
		"selection_name": sess.SelectionName,
		"file_path":      filePath,
		"file_size":      fileSize,
		"file_type":      "image/webp",
		"source_url":     sess.FinalOutput,
	}

	_, _, err := a.supabase.From(resultsTable).
		Insert(record, false, "", "", "").
		Execute()
	if err != nil {
		log.Printf("⚠️  [Archive] Failed to insert result record for session %s: %v", sess.ID, err)
	}
}
