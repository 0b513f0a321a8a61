package jobengine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/model"
	"github.com/AsaTyr2018/visionsuit-gpu-agent/internal/objectstore"
)

// UploadStore is the subset of the object-store client the uploader needs.
type UploadStore interface {
	UploadFile(ctx context.Context, bucket, key, source string, extraMetadata map[string]string) error
}

// uploadResult pairs one discovered output file with its outcome: either a
// populated ArtifactRecord, or a warning describing why it was skipped.
type uploadResult struct {
	index   int
	record  *model.ArtifactRecord
	warning string
}

// uploadArtifacts hashes and uploads every discovered output file
// concurrently (spec.md §4.6.8), building the destination key
// comfy-outputs/<jobId>/<NN>_<seed><ext> and the object user-metadata.
// Missing source files are not fatal — they're collected as warnings.
func uploadArtifacts(
	ctx context.Context,
	store UploadStore,
	outputsDir string,
	jobID string,
	bucket string,
	params model.JobParameters,
	seed int64,
	steps int,
	username string,
	baseModelDisplay string,
	loraDisplayNames []string,
	files []outputFile,
) ([]model.ArtifactRecord, []string, error) {
	results := make([]uploadResult, len(files))

	group, groupCtx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		group.Go(func() error {
			results[i] = uploadOne(groupCtx, store, outputsDir, jobID, bucket, params, seed, steps, username, baseModelDisplay, loraDisplayNames, f, i+1)
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, nil, err
	}

	var records []model.ArtifactRecord
	var warnings []string
	for _, r := range results {
		if r.record != nil {
			records = append(records, *r.record)
		}
		if r.warning != "" {
			warnings = append(warnings, r.warning)
		}
	}
	return records, warnings, nil
}

// outputFile is the minimal shape uploadArtifacts needs from a renderer
// output entry — kept decoupled from renderer.OutputFile so this package
// doesn't need to import renderer just for a struct shape.
type outputFile struct {
	NodeID    string
	Filename  string
	Subfolder string
	Type      string
}

func uploadOne(
	ctx context.Context,
	store UploadStore,
	outputsDir string,
	jobID string,
	bucket string,
	params model.JobParameters,
	seed int64,
	steps int,
	username string,
	baseModelDisplay string,
	loraDisplayNames []string,
	f outputFile,
	index int,
) uploadResult {
	sourcePath := filepath.Join(outputsDir, f.Subfolder, f.Filename)
	if _, err := os.Stat(sourcePath); err != nil {
		return uploadResult{warning: fmt.Sprintf("expected output missing: %s", sourcePath)}
	}

	sum, err := objectstore.ComputeSHA256(sourcePath)
	if err != nil {
		return uploadResult{warning: fmt.Sprintf("failed to hash %s: %v", sourcePath, err)}
	}

	ext := filepath.Ext(f.Filename)
	if ext == "" {
		ext = ".png"
	}
	destinationKey := fmt.Sprintf("comfy-outputs/%s/%02d_%d%s", jobID, index, seed, ext)

	negativePrompt := ""
	if params.NegativePrompt != nil {
		negativePrompt = *params.NegativePrompt
	}
	metadata := map[string]string{
		"prompt":          params.Prompt,
		"negative_prompt": negativePrompt,
		"seed":            strconv.FormatInt(seed, 10),
		"steps":           strconv.Itoa(steps),
		"user":            username,
		"job_id":          jobID,
		"model":           baseModelDisplay,
		"loras":           strings.Join(loraDisplayNames, ","),
		"image_type":      f.Type,
		"sha256":          sum,
	}

	if err := store.UploadFile(ctx, bucket, destinationKey, sourcePath, metadata); err != nil {
		return uploadResult{warning: fmt.Sprintf("failed to upload %s: %v", sourcePath, err)}
	}

	info, statErr := os.Stat(sourcePath)
	var size int64
	if statErr == nil {
		size = info.Size()
	}

	return uploadResult{record: &model.ArtifactRecord{
		NodeID:    f.NodeID,
		Filename:  f.Filename,
		Subfolder: f.Subfolder,
		RelPath:   filepath.Join(f.Subfolder, f.Filename),
		AbsPath:   sourcePath,
		MIME:      mimeFromExt(ext),
		SHA256:    sum,
		SizeBytes: size,
		S3Bucket:  bucket,
		S3Key:     destinationKey,
		Kind:      "image",
	}}
}

func mimeFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
