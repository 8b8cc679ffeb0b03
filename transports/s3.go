// Copyright 2020 Speckle Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package transports

import (
	"bytes"
	"context"
	"io/ioutil"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/martijn00/speckle-sharp/hash"
)

type s3Svc interface {
	GetObjectWithContext(ctx aws.Context, input *s3.GetObjectInput, opts ...request.Option) (*s3.GetObjectOutput, error)
	HeadObjectWithContext(ctx aws.Context, input *s3.HeadObjectInput, opts ...request.Option) (*s3.HeadObjectOutput, error)
	PutObjectWithContext(ctx aws.Context, input *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error)
}

var _ s3Svc = s3iface.S3API(nil)

const s3HeadConcurrency = 16

// S3Transport stores each object as an S3 object keyed <prefix>/<id>.
// Writes are synchronous.
type S3Transport struct {
	bucket, prefix string
	svc            s3Svc

	// lock keeps the collision check and the put of a write from
	// interleaving with another write.
	lock sync.Mutex
}

var _ Transport = (*S3Transport)(nil)

// NewS3Transport connects to bucket in region using the default AWS
// credential chain.
func NewS3Transport(bucket, region, prefix string) (*S3Transport, error) {
	sess, err := session.NewSession(&aws.Config{Region: aws.String(region)})
	if err != nil {
		return nil, errors.Wrap(err, "transports: creating AWS session")
	}
	return newS3Transport(s3.New(sess), bucket, prefix), nil
}

func newS3Transport(svc s3Svc, bucket, prefix string) *S3Transport {
	return &S3Transport{bucket: bucket, prefix: prefix, svc: svc}
}

func (t *S3Transport) Name() string {
	return "s3://" + path.Join(t.bucket, t.prefix)
}

func (t *S3Transport) key(h hash.Hash) string {
	return path.Join(t.prefix, h.String())
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return true
		}
	}
	return false
}

func (t *S3Transport) GetObject(ctx context.Context, h hash.Hash) ([]byte, bool, error) {
	result, err := t.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(t.bucket),
		Key:    aws.String(t.key(h)),
	})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "transports: getting %s from %s", h, t.Name())
	}
	defer result.Body.Close()
	data, err := ioutil.ReadAll(result.Body)
	if err != nil {
		return nil, false, errors.Wrapf(err, "transports: reading %s from %s", h, t.Name())
	}
	return data, true, nil
}

func (t *S3Transport) HasObjects(ctx context.Context, hs hash.HashSet) (hash.HashSet, error) {
	var mu sync.Mutex
	absent := hash.HashSet{}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s3HeadConcurrency)
	for h := range hs {
		h := h
		eg.Go(func() error {
			_, err := t.svc.HeadObjectWithContext(egCtx, &s3.HeadObjectInput{
				Bucket: aws.String(t.bucket),
				Key:    aws.String(t.key(h)),
			})
			if isNotFound(err) {
				mu.Lock()
				absent.Insert(h)
				mu.Unlock()
				return nil
			}
			return errors.Wrapf(err, "transports: checking %s in %s", h, t.Name())
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return absent, nil
}

func (t *S3Transport) WriteObject(ctx context.Context, h hash.Hash, data []byte) error {
	t.lock.Lock()
	defer t.lock.Unlock()

	existing, ok, err := t.GetObject(ctx, h)
	if err != nil {
		return err
	}
	if ok {
		if !bytes.Equal(existing, data) {
			return ErrContentCollision.New(h, t.Name())
		}
		return nil
	}

	_, err = t.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(t.bucket),
		Key:           aws.String(t.key(h)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/cbor"),
	})
	return errors.Wrapf(err, "transports: putting %s to %s", h, t.Name())
}

func (t *S3Transport) CopyObjectAndChildren(ctx context.Context, h hash.Hash, dest Transport, opts CopyOptions) ([]byte, error) {
	return Pull(ctx, t, h, dest, opts)
}

// WriteComplete is a no-op; writes are synchronous.
func (t *S3Transport) WriteComplete(ctx context.Context) error {
	return nil
}

func (t *S3Transport) Close() error {
	return nil
}
