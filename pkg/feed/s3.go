package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/OFFIS-RIT/biograph/pkg/common"
	"github.com/OFFIS-RIT/biograph/pkg/logger"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"golang.org/x/sync/errgroup"
)

const objectSuffix = ".json"

// ObjectAPI is the part of *s3.Client the feed uses.
type ObjectAPI interface {
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Params configures an S3Feed. Publications are stored as one JSON object per record
// at Prefix + id + ".json".
type S3Params struct {
	Bucket   string
	Prefix   string
	PageSize int
	// Fetchers bounds concurrent object downloads per page.
	Fetchers int
}

// S3Feed lists the bucket in key order. An id range is applied to the keys, a watermark
// to the LastModified time of each object.
type S3Feed struct {
	api    ObjectAPI
	params S3Params
	rng    Range

	token   *string
	started bool
	done    bool
}

func NewS3Feed(api ObjectAPI, params S3Params, rng Range) *S3Feed {
	if params.PageSize <= 0 {
		params.PageSize = DefaultPageSize
	}
	if params.Fetchers <= 0 {
		params.Fetchers = 4
	}
	return &S3Feed{api: api, params: params, rng: rng}
}

func (f *S3Feed) idOf(key string) (string, bool) {
	if !strings.HasPrefix(key, f.params.Prefix) || !strings.HasSuffix(key, objectSuffix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(key, f.params.Prefix), objectSuffix), true
}

func (f *S3Feed) Next(ctx context.Context) ([]common.Publication, error) {
	for !f.done {
		in := &s3.ListObjectsV2Input{
			Bucket:            aws.String(f.params.Bucket),
			Prefix:            aws.String(f.params.Prefix),
			MaxKeys:           aws.Int32(int32(f.params.PageSize)),
			ContinuationToken: f.token,
		}
		if !f.started && f.rng.FromID != "" {
			// The bare id sorts before its own object key.
			in.StartAfter = aws.String(f.params.Prefix + f.rng.FromID)
		}
		f.started = true

		out, err := f.api.ListObjectsV2(ctx, in)
		if err != nil {
			return nil, common.Transient("s3 list", err)
		}
		if out.IsTruncated != nil && *out.IsTruncated {
			f.token = out.NextContinuationToken
		} else {
			f.done = true
		}

		var keys []string
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			id, ok := f.idOf(*obj.Key)
			if !ok {
				continue
			}
			if f.rng.ToID != "" && id > f.rng.ToID {
				f.done = true
				break
			}
			if !f.rng.contains(id) {
				continue
			}
			if !f.rng.Since.IsZero() && (obj.LastModified == nil || !obj.LastModified.After(f.rng.Since)) {
				continue
			}
			keys = append(keys, *obj.Key)
		}
		if len(keys) == 0 {
			continue
		}
		return f.fetch(ctx, keys, out)
	}
	return nil, io.EOF
}

func (f *S3Feed) fetch(ctx context.Context, keys []string, listing *s3.ListObjectsV2Output) ([]common.Publication, error) {
	modified := make(map[string]time.Time, len(listing.Contents))
	for _, obj := range listing.Contents {
		if obj.Key != nil && obj.LastModified != nil {
			modified[*obj.Key] = obj.LastModified.UTC()
		}
	}

	pubs := make([]common.Publication, len(keys))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.params.Fetchers)
	for i, key := range keys {
		g.Go(func() error {
			pub, err := f.get(gCtx, key)
			if err != nil {
				return err
			}
			if pub.UpdatedAt.IsZero() {
				pub.UpdatedAt = modified[key]
			}
			pubs[i] = pub
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pubs, nil
}

// get downloads one record. An undecodable object yields a publication with only its id,
// so the coordinator reports it as malformed.
func (f *S3Feed) get(ctx context.Context, key string) (common.Publication, error) {
	id, _ := f.idOf(key)
	out, err := f.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.params.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return common.Publication{}, common.Transient("s3 get", fmt.Errorf("%s: %w", key, err))
	}
	defer out.Body.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, out.Body); err != nil {
		return common.Publication{}, common.Transient("s3 read", fmt.Errorf("%s: %w", key, err))
	}

	var pub common.Publication
	if err := json.Unmarshal(buf.Bytes(), &pub); err != nil {
		logger.Warn("[Feed][S3] Undecodable publication object", "key", key, "err", err)
		return common.Publication{ID: id}, nil
	}
	if pub.ID == "" {
		pub.ID = id
	}
	return pub, nil
}
