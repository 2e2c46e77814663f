package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/llm-docs-crawler/internal/crawler"
	"github.com/JakeFAU/llm-docs-crawler/internal/htmlx"
	"github.com/JakeFAU/llm-docs-crawler/internal/metrics"
	"github.com/JakeFAU/llm-docs-crawler/internal/storage/fsutil"
	"github.com/JakeFAU/llm-docs-crawler/internal/urlfilter"
)

// persist writes <base>.json and <base>.md locally, uploads both, and then
// records and announces the artifact. Failures here are logged and never
// change the URL's outcome.
func (w *Worker) persist(ctx context.Context, logger *zap.Logger, claim crawler.Claim, content, markdown string, degraded bool) {
	base := urlfilter.ArtifactBase(claim.URL)
	body := indentJSON(content)

	jsonKey, jsonOK := w.writeAndUpload(ctx, logger, base+".json", body)
	mdKey, mdOK := w.writeAndUpload(ctx, logger, base+".md", []byte(markdown))
	if !jsonOK || !mdOK {
		return
	}

	w.logPresigned(ctx, logger, jsonKey, mdKey)

	digest, err := w.deps.Hasher.Hash(body)
	if err != nil {
		logger.Warn("hash artifact", zap.Error(err))
	}
	id, err := w.deps.IDs.NewID()
	if err != nil {
		logger.Warn("generate artifact id", zap.Error(err))
		return
	}
	artifact := crawler.Artifact{
		ID:            id,
		RunID:         w.cfg.RunID,
		URL:           claim.URL,
		Depth:         claim.Depth,
		JSONKey:       jsonKey,
		MarkdownKey:   mdKey,
		ContentSHA256: digest,
		Degraded:      degraded,
		CompletedAt:   w.deps.Clock.Now().UTC(),
	}
	if w.deps.Index != nil {
		if err := w.deps.Index.Record(ctx, artifact); err != nil {
			logger.Warn("record artifact in index", zap.Error(err))
		}
	}
	if w.deps.Publisher != nil && w.cfg.Topic != "" {
		msgID, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, artifact)
		if err != nil {
			logger.Warn("publish completion", zap.Error(err))
		} else {
			logger.Debug("completion published", zap.String("message_id", msgID))
		}
	}
}

// writeAndUpload stores data under the output directory and uploads it. The
// local copy is removed once the upload succeeds and kept otherwise.
func (w *Worker) writeAndUpload(ctx context.Context, logger *zap.Logger, name string, data []byte) (string, bool) {
	localPath := filepath.Join(w.cfg.OutputDir, name)
	key := name
	if prefix := strings.Trim(w.cfg.ArtifactPrefix, "/"); prefix != "" {
		key = path.Join(prefix, name)
	}
	if err := fsutil.WriteFileAtomic(localPath, bytes.NewReader(data)); err != nil {
		logger.Error("write artifact", zap.String("path", localPath), zap.Error(err))
		return "", false
	}
	if err := w.deps.Store.Put(ctx, localPath, key); err != nil {
		logger.Error("upload artifact", zap.String("key", key), zap.Error(err))
		return "", false
	}
	if err := os.Remove(localPath); err != nil {
		logger.Debug("remove local artifact", zap.String("path", localPath), zap.Error(err))
	}
	return key, true
}

func (w *Worker) logPresigned(ctx context.Context, logger *zap.Logger, keys ...string) {
	if w.deps.Presigner == nil || w.cfg.PresignTTL <= 0 {
		return
	}
	for _, key := range keys {
		url, err := w.deps.Presigner.Presign(ctx, key, w.cfg.PresignTTL)
		if err != nil {
			logger.Debug("presign artifact", zap.String("key", key), zap.Error(err))
			continue
		}
		logger.Info("artifact uploaded", zap.String("key", key), zap.String("presigned_url", url))
	}
}

// discover inserts every in-scope link on the page at depth+1. Parse and
// insert failures are logged only.
func (w *Worker) discover(ctx context.Context, logger *zap.Logger, claim crawler.Claim, html string) {
	hrefs, err := htmlx.Links(html)
	if err != nil {
		logger.Warn("error discovering links", zap.Error(err))
		return
	}
	added := 0
	for _, href := range hrefs {
		target, ok := w.deps.Filter.Resolve(href, claim.URL)
		if !ok {
			continue
		}
		created, err := w.deps.Frontier.Insert(ctx, target, claim.Depth+1)
		if err != nil {
			logger.Warn("insert discovered url", zap.String("target", target), zap.Error(err))
			continue
		}
		if created {
			added++
		}
	}
	metrics.AddDiscovered(added)
	logger.Debug("links discovered", zap.Int("links", len(hrefs)), zap.Int("new", added))
}

func indentJSON(content string) []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(content), "", "  "); err != nil {
		return []byte(content)
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
