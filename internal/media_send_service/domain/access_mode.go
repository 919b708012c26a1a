package domain

import coreDomain "github.com/aradsms/media_delivery_services/internal/core_media/domain"

// NextAccessMode computes the recipient's unidentified access mode after a
// successful send. Only an unknown mode is promoted; any mode other than
// disabled is demoted when the send was identified.
func NextAccessMode(current coreDomain.UnidentifiedAccessMode, unidentified, hasProfileKey bool) (coreDomain.UnidentifiedAccessMode, bool) {
	switch {
	case unidentified && current == coreDomain.UnidentifiedAccessUnknown && !hasProfileKey:
		return coreDomain.UnidentifiedAccessUnrestricted, true
	case unidentified && current == coreDomain.UnidentifiedAccessUnknown:
		return coreDomain.UnidentifiedAccessEnabled, true
	case !unidentified && current != coreDomain.UnidentifiedAccessDisabled:
		return coreDomain.UnidentifiedAccessDisabled, true
	default:
		return current, false
	}
}
