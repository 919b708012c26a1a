package app

import (
	"context"
	"fmt"

	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
	jobDomain "github.com/aradsms/media_delivery_services/internal/scheduler_service/domain"
)

// PlanUploads returns one upload job for every attachment of the template
// message. A missing message fails with an error wrapping ErrNotFound.
func (p *Pipeline) PlanUploads(ctx context.Context, templateID int64, destination coreDomain.Address) ([]*AttachmentUploadJob, error) {
	msg, err := p.messages.GetOutgoingMessage(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("resolve attachments of message %d: %w", templateID, err)
	}
	attachments := collectAttachments(msg)
	jobs := make([]*AttachmentUploadJob, 0, len(attachments))
	for _, a := range attachments {
		jobs = append(jobs, p.NewAttachmentUploadJob(a.ID, destination))
	}
	return jobs, nil
}

// EnqueueMessage schedules the delivery of a message to destination.
func (p *Pipeline) EnqueueMessage(ctx context.Context, s JobScheduler, messageID int64, destination coreDomain.Address) error {
	return p.EnqueueTemplated(ctx, s, messageID, messageID, destination)
}

// EnqueueTemplated schedules the delivery of the template message's content,
// recording the result on messageID.
func (p *Pipeline) EnqueueTemplated(ctx context.Context, s JobScheduler, templateID, messageID int64, destination coreDomain.Address) error {
	return p.Enqueue(ctx, s, []*MediaSendJob{p.NewMediaSendJob(templateID, messageID, destination)})
}

// Enqueue schedules a batch of send jobs sharing one template. Attachments are
// planned once, from the first job. When they cannot be resolved every job of
// the batch is marked failed and nothing is scheduled.
func (p *Pipeline) Enqueue(ctx context.Context, s JobScheduler, jobs []*MediaSendJob) error {
	if len(jobs) == 0 {
		return nil
	}
	first := jobs[0]

	uploads, err := p.PlanUploads(ctx, first.templateID, first.target.Destination)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to plan attachment uploads", "error", err,
			"template_id", first.templateID, "jobs", len(jobs))
		for _, j := range jobs {
			p.reconciler.markFailed(ctx, j.target, "attachments unavailable")
		}
		enqueueCounter.WithLabelValues("failed").Inc()
		return err
	}

	sends := make([]jobDomain.Job, 0, len(jobs))
	for _, j := range jobs {
		sends = append(sends, j)
	}

	if len(uploads) == 0 {
		for _, j := range sends {
			if err := s.Add(ctx, j); err != nil {
				return fmt.Errorf("enqueue media send job: %w", err)
			}
		}
		enqueueCounter.WithLabelValues("direct").Inc()
		p.logger.InfoContext(ctx, "Enqueued media send jobs", "template_id", first.templateID, "jobs", len(sends))
		return nil
	}

	chain := make([]jobDomain.Job, 0, len(uploads))
	for _, u := range uploads {
		chain = append(chain, u)
	}
	if err := s.EnqueueChain(ctx, chain, sends); err != nil {
		return fmt.Errorf("enqueue media send chain: %w", err)
	}
	enqueueCounter.WithLabelValues("chained").Inc()
	p.logger.InfoContext(ctx, "Enqueued media send jobs behind attachment uploads",
		"template_id", first.templateID, "uploads", len(chain), "jobs", len(sends))
	return nil
}

// Dispatcher binds the pipeline to one scheduler for callers outside the job
// system, such as the HTTP API.
type Dispatcher struct {
	pipeline  *Pipeline
	scheduler JobScheduler
}

func (p *Pipeline) Dispatcher(s JobScheduler) *Dispatcher {
	return &Dispatcher{pipeline: p, scheduler: s}
}

// EnqueueTemplated schedules one send of the template's content to destination.
func (d *Dispatcher) EnqueueTemplated(ctx context.Context, templateID, messageID int64, destination coreDomain.Address) error {
	return d.pipeline.EnqueueTemplated(ctx, d.scheduler, templateID, messageID, destination)
}

// EnqueueBatch schedules one send per target, all sharing the template.
func (d *Dispatcher) EnqueueBatch(ctx context.Context, templateID int64, targets []SendTarget) error {
	jobs := make([]*MediaSendJob, 0, len(targets))
	for _, t := range targets {
		jobs = append(jobs, d.pipeline.NewMediaSendJob(templateID, t.MessageID, t.Destination))
	}
	return d.pipeline.Enqueue(ctx, d.scheduler, jobs)
}
