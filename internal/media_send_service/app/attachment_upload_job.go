package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	"github.com/aradsms/media_delivery_services/internal/media_send_service/domain"
	jobDomain "github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
)

const AttachmentUploadJobKey = "AttachmentUploadJob"

const keyAttachmentID = "attachment_id"

// AttachmentUploadJob uploads one attachment payload and stores its pointer.
type AttachmentUploadJob struct {
	params       jobDomain.Parameters
	attachmentID int64
	destination  coreDomain.Address
	p            *Pipeline
}

func (p *Pipeline) NewAttachmentUploadJob(attachmentID int64, destination coreDomain.Address) *AttachmentUploadJob {
	return &AttachmentUploadJob{
		params:       jobDomain.NewParameters("", p.settings.UploadMaxAttempts, p.settings.UploadLifespan),
		attachmentID: attachmentID,
		destination:  destination,
		p:            p,
	}
}

func (p *Pipeline) createAttachmentUploadJob(params jobDomain.Parameters, data jobDomain.Data) (jobDomain.Job, error) {
	id, err := data.GetLong(keyAttachmentID)
	if err != nil {
		return nil, err
	}
	raw, err := data.GetString(keyDestination)
	if err != nil {
		return nil, err
	}
	destination, err := coreDomain.ParseAddress(raw)
	if err != nil {
		return nil, fmt.Errorf("attachment upload job destination: %w", err)
	}
	return &AttachmentUploadJob{params: params, attachmentID: id, destination: destination, p: p}, nil
}

func (j *AttachmentUploadJob) Parameters() jobDomain.Parameters { return j.params }

func (j *AttachmentUploadJob) FactoryKey() string { return AttachmentUploadJobKey }

func (j *AttachmentUploadJob) AttachmentID() int64 { return j.attachmentID }

func (j *AttachmentUploadJob) Serialize() (jobDomain.Data, error) {
	return jobDomain.NewDataBuilder().
		PutLong(keyAttachmentID, j.attachmentID).
		PutString(keyDestination, j.destination.Serialize()).
		Build(), nil
}

func (j *AttachmentUploadJob) OnAdded(context.Context) {}

func (j *AttachmentUploadJob) Run(ctx context.Context) error {
	log := j.p.logger.With("job_id", j.params.ID, "attachment_id", j.attachmentID, "destination", j.destination)

	a, err := j.p.attachments.GetAttachment(ctx, j.attachmentID)
	if err != nil {
		attachmentUploadsCounter.WithLabelValues("error_load").Inc()
		return storageError(err)
	}
	if a.Uploaded() {
		log.DebugContext(ctx, "Attachment already uploaded")
		attachmentUploadsCounter.WithLabelValues("skipped").Inc()
		return nil
	}

	f, err := os.Open(a.DataPath)
	if err != nil {
		attachmentUploadsCounter.WithLabelValues("error_payload").Inc()
		if errors.Is(err, fs.ErrNotExist) {
			log.ErrorContext(ctx, "Attachment payload missing", "path", a.DataPath)
			return fmt.Errorf("%w: payload of attachment %d: %v", domain.ErrUndeliverable, a.ID, err)
		}
		return fmt.Errorf("%w: open attachment %d: %v", domain.ErrRetryLater, a.ID, err)
	}
	defer f.Close()

	pointer, err := j.p.uploader.Upload(ctx, a, f)
	if err != nil {
		attachmentUploadsCounter.WithLabelValues("error_upload").Inc()
		log.WarnContext(ctx, "Attachment upload failed", "error", err)
		if errors.Is(err, domain.ErrUndeliverable) {
			return err
		}
		return fmt.Errorf("%w: upload attachment %d: %v", domain.ErrRetryLater, a.ID, err)
	}
	if pointer.UploadedAt.IsZero() {
		pointer.UploadedAt = j.p.now().UTC()
	}
	if err := j.p.attachments.MarkUploaded(ctx, a.ID, pointer); err != nil {
		attachmentUploadsCounter.WithLabelValues("error_store").Inc()
		return storageError(err)
	}

	attachmentUploadsCounter.WithLabelValues("success").Inc()
	log.InfoContext(ctx, "Attachment uploaded", "remote_id", pointer.RemoteID, "size", a.Size)
	return nil
}

func (j *AttachmentUploadJob) OnShouldRetry(error) bool { return false }

// OnCanceled only logs; the dependent send jobs are canceled with it and
// record the failure on their messages.
func (j *AttachmentUploadJob) OnCanceled(ctx context.Context) {
	j.p.logger.WarnContext(ctx, "Attachment upload canceled", "job_id", j.params.ID, "attachment_id", j.attachmentID)
}
