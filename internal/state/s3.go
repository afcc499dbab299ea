package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	dbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/applyr-io/applyr/internal/ir"
)

// S3Store keeps state as a JSON object in S3, with optional DynamoDB
// advisory locking. The object is read once per run and rewritten in full
// after every mutation, mirroring the local store's flush-per-operation
// behavior.
type S3Store struct {
	bucket        string
	key           string
	region        string
	dynamoDBTable string
	encrypt       bool
	profile       string

	s3Client *s3.Client
	dbClient *dynamodb.Client
	lockID   string

	mu     sync.Mutex
	loaded bool
	state  *ir.State

	identityMu sync.Map // address -> *sync.Mutex
}

func newS3Store(ctx context.Context, config map[string]string) (*S3Store, error) {
	bucket := config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("s3 backend requires 'bucket' configuration")
	}

	key := config["key"]
	if key == "" {
		key = "applyr/state.json"
	}

	region := config["region"]
	if region == "" {
		region = "us-east-1"
	}

	st := &S3Store{
		bucket:        bucket,
		key:           key,
		region:        region,
		dynamoDBTable: config["dynamodb_table"],
		encrypt:       config["encrypt"] == "true",
		profile:       config["profile"],
	}

	var opts []func(*awsconfig.LoadOptions) error
	opts = append(opts, awsconfig.WithRegion(st.region))
	if st.profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(st.profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load AWS config: %w", err)
	}

	st.s3Client = s3.NewFromConfig(cfg)
	if st.dynamoDBTable != "" {
		st.dbClient = dynamodb.NewFromConfig(cfg)
	}

	return st, nil
}

func (s *S3Store) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}

	result, err := s.s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		var apiErr smithy.APIError
		if errors.As(err, &nsk) || (errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey") {
			s.state = ir.NewState()
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read state from s3://%s/%s: %w", s.bucket, s.key, err)
	}
	defer result.Body.Close()

	raw, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("failed to read S3 object body: %w", err)
	}

	raw, err = Decrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to decrypt remote state: %w", err)
	}

	var st ir.State
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("failed to parse remote state: %w", err)
	}
	s.state = &st
	s.loaded = true
	return nil
}

func (s *S3Store) flush(ctx context.Context) error {
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize state: %w", err)
	}

	raw, err = Encrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
		Body:   bytes.NewReader(raw),
	}
	if s.encrypt {
		input.ServerSideEncryption = s3types.ServerSideEncryptionAes256
	}

	if _, err := s.s3Client.PutObject(ctx, input); err != nil {
		return fmt.Errorf("failed to write state to s3://%s/%s: %w", s.bucket, s.key, err)
	}
	return nil
}

func (s *S3Store) identityLock(id ir.Identity) *sync.Mutex {
	mu, _ := s.identityMu.LoadOrStore(id.Address(), &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func (s *S3Store) Get(ctx context.Context, id ir.Identity) (*ir.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	for _, rec := range s.state.Resources {
		if rec.Identity() == id {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

func (s *S3Store) Put(ctx context.Context, rec *ir.Record) error {
	idMu := s.identityLock(rec.Identity())
	idMu.Lock()
	defer idMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return err
	}

	replaced := false
	for i, existing := range s.state.Resources {
		if existing.Identity() == rec.Identity() {
			s.state.Resources[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.state.Resources = append(s.state.Resources, rec)
	}
	s.state.Serial++
	return s.flush(ctx)
}

func (s *S3Store) Delete(ctx context.Context, id ir.Identity) error {
	idMu := s.identityLock(id)
	idMu.Lock()
	defer idMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return err
	}

	for i, existing := range s.state.Resources {
		if existing.Identity() == id {
			s.state.Resources = append(s.state.Resources[:i], s.state.Resources[i+1:]...)
			s.state.Serial++
			return s.flush(ctx)
		}
	}
	return nil
}

func (s *S3Store) List(ctx context.Context) ([]*ir.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return nil, err
	}
	out := make([]*ir.Record, len(s.state.Resources))
	copy(out, s.state.Resources)
	return out, nil
}

// Lock acquires a DynamoDB advisory lock via a conditional put. Without a
// configured table, locking is a no-op.
func (s *S3Store) Lock(ctx context.Context) error {
	if s.dynamoDBTable == "" {
		return nil
	}

	s.lockID = fmt.Sprintf("applyr-%d-%d", os.Getpid(), time.Now().UnixNano())

	_, err := s.dbClient.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.dynamoDBTable),
		Item: map[string]dbtypes.AttributeValue{
			"LockID":  &dbtypes.AttributeValueMemberS{Value: s.key},
			"Info":    &dbtypes.AttributeValueMemberS{Value: s.lockID},
			"Created": &dbtypes.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339)},
		},
		ConditionExpression: aws.String("attribute_not_exists(LockID)"),
	})
	if err != nil {
		var ccf *dbtypes.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return fmt.Errorf("state is locked by another process; "+
				"manually delete the lock item with LockID=%q from DynamoDB table %q if no other run is active",
				s.key, s.dynamoDBTable)
		}
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	return nil
}

// Unlock releases the DynamoDB advisory lock.
func (s *S3Store) Unlock(ctx context.Context) error {
	if s.dynamoDBTable == "" {
		return nil
	}

	_, err := s.dbClient.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(s.dynamoDBTable),
		Key: map[string]dbtypes.AttributeValue{
			"LockID": &dbtypes.AttributeValueMemberS{Value: s.key},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
