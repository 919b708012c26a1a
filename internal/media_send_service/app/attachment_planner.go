package app

import (
	coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"
)

// collectAttachments returns every attachment that must be uploaded before the
// message can be sent: body attachments (the sticker image included), then
// link preview thumbnails, then shared contact avatars. An attachment
// referenced from more than one place is returned once, at its first position.
func collectAttachments(msg *coreDomain.OutgoingMediaMessage) []*coreDomain.Attachment {
	var (
		out  []*coreDomain.Attachment
		seen = make(map[int64]struct{})
	)
	add := func(a *coreDomain.Attachment) {
		if a == nil {
			return
		}
		if _, ok := seen[a.ID]; ok {
			return
		}
		seen[a.ID] = struct{}{}
		out = append(out, a)
	}

	for _, a := range msg.Attachments {
		add(a)
	}
	for _, p := range msg.LinkPreviews {
		add(p.Thumbnail)
	}
	for _, c := range msg.SharedContacts {
		if c.Avatar != nil {
			add(c.Avatar.Attachment)
		}
	}
	return out
}
