package classvault

import (
	"context"
	"fmt"
	"time"

	humanize "github.com/dustin/go-humanize"
	"github.com/ghodss/yaml"
	"go.uber.org/zap"
)

// deliver hands a finished artifact to the operator: inline as an email
// attachment when it fits, otherwise as a link to a single blob written to
// the artifact store. Exactly one of the two paths runs.
func (e *Engine) deliver(ctx context.Context, plan *DeliveryPlan) (*DeliveryReceipt, error) {
	receipt := &DeliveryReceipt{
		Filename:   plan.Filename,
		SizeBytes:  plan.SizeBytes,
		Compressed: plan.Compressed,
		Checksum:   plan.Checksum,
	}

	if plan.SizeBytes <= e.maxAttachmentBytes {
		receipt.Mode = DeliveryInline

		notification := Notification{
			Subject: deliverySubject(plan),
			Body:    receiptBody(receipt),
			Attachment: &Attachment{
				Filename:    plan.Filename,
				ContentType: plan.ContentType,
				Content:     plan.Encoded,
			},
		}
		if err := e.notifier.Notify(ctx, notification); err != nil {
			return nil, &DeliveryError{Err: err}
		}

		receipt.NotifiedAt = time.Now().UTC()
		return receipt, nil
	}

	if e.store == nil {
		return nil, &DeliveryError{Err: ErrNoArtifactStore}
	}

	if err := e.store.WriteArtifact(ctx, plan.Filename, plan.Encoded); err != nil {
		return nil, &DeliveryError{Err: fmt.Errorf("write artifact blob: %w", err)}
	}
	receipt.Mode = DeliveryLink
	receipt.Location = e.store.ArtifactURL(plan.Filename)

	zlog.Info("artifact stored",
		zap.String("location", receipt.Location),
		zap.String("size", humanize.Bytes(uint64(plan.SizeBytes))),
	)

	notification := Notification{
		Subject: deliverySubject(plan),
		Body:    receiptBody(receipt),
	}
	if err := e.notifier.Notify(ctx, notification); err != nil {
		return nil, &DeliveryError{Location: receipt.Location, Err: err}
	}

	receipt.NotifiedAt = time.Now().UTC()
	return receipt, nil
}

func deliverySubject(plan *DeliveryPlan) string {
	return fmt.Sprintf("classvault backup %s (%s)", plan.Filename, humanize.Bytes(uint64(plan.SizeBytes)))
}

// receiptBody renders the receipt as YAML so the notification doubles as a
// machine-readable record of the run.
func receiptBody(receipt *DeliveryReceipt) string {
	summary := struct {
		Filename   string       `json:"filename"`
		Mode       DeliveryMode `json:"mode"`
		SizeBytes  int64        `json:"sizeBytes"`
		Compressed bool         `json:"compressed"`
		Checksum   string       `json:"checksum"`
		Location   string       `json:"location,omitempty"`
	}{
		Filename:   receipt.Filename,
		Mode:       receipt.Mode,
		SizeBytes:  receipt.SizeBytes,
		Compressed: receipt.Compressed,
		Checksum:   receipt.Checksum,
		Location:   receipt.Location,
	}

	out, err := yaml.Marshal(summary)
	if err != nil {
		return fmt.Sprintf("backup artifact %s (%d bytes, sha3-256 %s)", receipt.Filename, receipt.SizeBytes, receipt.Checksum)
	}

	if receipt.Mode == DeliveryLink {
		return fmt.Sprintf("A backup artifact was stored at %s.\n\n%s", receipt.Location, out)
	}
	return fmt.Sprintf("A backup artifact is attached.\n\n%s", out)
}
