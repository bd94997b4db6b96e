package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chronicleaudio/chronicle/internal/domain"
	"github.com/chronicleaudio/chronicle/internal/domain/models"
	"github.com/chronicleaudio/chronicle/internal/ports"
)

// FuncIngestVault bulk-imports a directory of markdown notes into the memory
// store.
const FuncIngestVault = "ingest_vault"

const ingestTimeout = time.Hour

// ingestChunkWords caps chunk size so each stored memory stays within one
// embedding's useful context.
const ingestChunkWords = 120

var (
	frontmatterRe = regexp.MustCompile(`(?s)\A---\n.*?\n---\n`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

// IngestArgs is the argument envelope of a vault ingestion job.
type IngestArgs struct {
	VaultPath string `json:"vault_path"`
	UserID    string `json:"user_id"`
}

// EnqueueVaultIngestion schedules a bulk import of every markdown note under
// vaultPath. No retry budget: a rerun would store every chunk again.
func (p *Processor) EnqueueVaultIngestion(ctx context.Context, vaultPath, userID string) (string, error) {
	if p.Memory == nil || !p.Cfg.IsMemoryConfigured() {
		return "", fmt.Errorf("enqueue %s: %w", FuncIngestVault, domain.ErrInvalidInput)
	}

	jobID := p.IDs.JobID("job")
	var meta models.JobMeta
	meta.Set("vault_path", vaultPath)

	_, err := p.Scheduler.Enqueue(ctx, ports.EnqueueRequest{
		Function:    FuncIngestVault,
		Args:        IngestArgs{VaultPath: vaultPath, UserID: userID},
		Queue:       models.QueueDefault,
		Priority:    models.PriorityLow,
		Timeout:     ingestTimeout,
		ResultTTL:   p.Cfg.Jobs.ResultTTL,
		JobID:       jobID,
		Description: fmt.Sprintf("ingest markdown vault %s", vaultPath),
		Meta:        meta,
	})
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", FuncIngestVault, err)
	}
	return jobID, nil
}

// IngestVault walks the vault, chunks every markdown note and stores each
// chunk as an embedded memory. A broken note is recorded and skipped; only a
// vault-level failure fails the job. Progress lands in the job meta after
// every file.
func (p *Processor) IngestVault(ctx context.Context, job *models.Job) (any, error) {
	startedAt := time.Now()

	var args IngestArgs
	if err := json.Unmarshal(job.Args, &args); err != nil {
		return nil, fmt.Errorf("%w: decode ingest args: %v", domain.ErrInvalidInput, err)
	}
	if args.VaultPath == "" || args.UserID == "" {
		return nil, fmt.Errorf("%w: vault_path and user_id are required", domain.ErrInvalidInput)
	}
	if p.Memory == nil {
		return nil, fmt.Errorf("%w: no memory provider configured", domain.ErrInvalidInput)
	}

	files, err := markdownFiles(args.VaultPath)
	if err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}
	if len(files) == 0 {
		return skipped("", "no markdown files in vault", startedAt), nil
	}

	meta := job.Meta
	meta.Set("vault_path", args.VaultPath)
	meta.Set("total_files", len(files))
	meta.Set("processed", 0)
	p.Scheduler.SaveMeta(ctx, job.ID, meta)

	var (
		chunksStored int
		fileErrors   []string
	)
	for i, path := range files {
		alive, err := p.Scheduler.Alive(ctx, job.ID)
		if err != nil {
			return nil, err
		}
		if !alive {
			return nil, domain.ErrJobCancelled
		}

		stored, err := p.ingestNote(ctx, args, path)
		chunksStored += stored
		if err != nil {
			rel, relErr := filepath.Rel(args.VaultPath, path)
			if relErr != nil {
				rel = path
			}
			fileErrors = append(fileErrors, fmt.Sprintf("%s: %v", rel, err))
		}

		meta.Set("processed", i+1)
		meta.Set("last_file", filepath.Base(path))
		meta.Set("errors", len(fileErrors))
		p.Scheduler.SaveMeta(ctx, job.ID, meta)
	}

	p.Logger.Info("vault ingested",
		"vault_path", args.VaultPath,
		"user_id", args.UserID,
		"files", len(files),
		"chunks_stored", chunksStored,
		"errors", len(fileErrors))

	details := map[string]any{
		"files":         len(files),
		"chunks_stored": chunksStored,
	}
	if len(fileErrors) > 0 {
		details["file_errors"] = fileErrors
	}
	return success("", startedAt, details), nil
}

// ingestNote reads one note, strips frontmatter and stores its chunks. It
// returns how many chunks landed before any error.
func (p *Processor) ingestNote(ctx context.Context, args IngestArgs, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	name := strings.TrimSuffix(filepath.Base(path), ".md")
	body := frontmatterRe.ReplaceAllString(string(raw), "")
	rel, err := filepath.Rel(args.VaultPath, path)
	if err != nil {
		rel = filepath.Base(path)
	}

	stored := 0
	for _, chunk := range chunkWords(body, ingestChunkWords) {
		if _, err := p.Memory.IngestText(ctx, name+": "+chunk, "vault", "note:"+rel, args.UserID); err != nil {
			return stored, err
		}
		stored++
	}
	return stored, nil
}

// markdownFiles lists every .md file under root in walk order, skipping
// hidden directories (.obsidian, .git and friends).
func markdownFiles(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, root)
	}

	var files []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".md") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// chunkWords splits text into runs of at most maxWords words with collapsed
// whitespace. Empty input yields nothing.
func chunkWords(text string, maxWords int) []string {
	words := strings.Fields(whitespaceRe.ReplaceAllString(text, " "))
	if len(words) == 0 {
		return nil
	}

	var chunks []string
	for start := 0; start < len(words); start += maxWords {
		end := start + maxWords
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}
