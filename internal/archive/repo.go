package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/dandantas/certwatch/internal/model"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Record is the archived form of a result
type Record struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"`
	JobID           string             `bson:"job_id"`
	RequestID       string             `bson:"request_id"`
	Status          string             `bson:"status"`
	Error           string             `bson:"error,omitempty"`
	LatencyMs       *int64             `bson:"latency_ms,omitempty"`
	ExecutedAt      time.Time          `bson:"executed_at"`
	ExpiryTS        *int64             `bson:"expiry_ts,omitempty"`
	NotAfter        string             `bson:"not_after,omitempty"`
	CommonName      string             `bson:"common_name,omitempty"`
	IssuerName      string             `bson:"issuer_name,omitempty"`
	SubjectAltNames []string           `bson:"subject_alt_names,omitempty"`
	Initiator       string             `bson:"initiator"`
	SiteURL         string             `bson:"site_url,omitempty"`
	TargetHost      string             `bson:"target_host,omitempty"`
	TargetPort      int                `bson:"target_port,omitempty"`
	Scheme          string             `bson:"scheme,omitempty"`
	ArchivedAt      time.Time          `bson:"archived_at"`
}

// NewRecord converts a result into its archived form
func NewRecord(res model.Result, now time.Time) Record {
	rec := Record{
		ID:         primitive.NewObjectID(),
		JobID:      res.ID.String(),
		RequestID:  res.RequestID,
		Status:     string(res.Status),
		Error:      res.Error,
		LatencyMs:  res.LatencyMs,
		Initiator:  res.Initiator,
		SiteURL:    res.SiteURL,
		TargetHost: res.TargetHost,
		TargetPort: res.TargetPort,
		Scheme:     res.Scheme,
		ArchivedAt: now.UTC(),
	}

	if executed, err := time.Parse(model.ExecutedAtLayout, res.ExecutedAt); err == nil {
		rec.ExecutedAt = executed
	} else {
		rec.ExecutedAt = now.UTC()
	}

	if res.CertFields != nil {
		rec.ExpiryTS = res.ExpiryTS
		rec.NotAfter = res.NotAfter
		rec.CommonName = res.CommonName
		rec.IssuerName = res.IssuerName
		rec.SubjectAltNames = res.SubjectAltNames
	}

	return rec
}

// ResultRepository appends results to the archive. It never reads.
type ResultRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

// NewResultRepository creates a new result repository
func NewResultRepository(collection *mongo.Collection) *ResultRepository {
	return &ResultRepository{
		collection: collection,
		now:        time.Now,
	}
}

// Archive inserts one result
func (r *ResultRepository) Archive(ctx context.Context, res model.Result) error {
	ctxTimeout, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := r.collection.InsertOne(ctxTimeout, NewRecord(res, r.now())); err != nil {
		return fmt.Errorf("failed to archive result: %w", err)
	}
	return nil
}
