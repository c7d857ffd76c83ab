package transfer

import (
	"github.com/eniz1806/omnistore/internal/fingerprint"
)

// Action is what a transfer should do after probing both ends.
type Action int

const (
	// Full sends or fetches the whole body from offset zero.
	Full Action = iota
	// Skip means both ends already hold identical content.
	Skip
	// Resume fetches from Decision.Offset and appends.
	Resume
)

func (a Action) String() string {
	switch a {
	case Skip:
		return "skip"
	case Resume:
		return "resume"
	default:
		return "full"
	}
}

// Object is the (size, fingerprint) view of one end of a transfer.
type Object struct {
	Size        int64
	Fingerprint string
}

type Decision struct {
	Action Action
	Offset int64
	Reason string
}

// DecideUpload applies the upload skip rule. remote is nil when the probe
// found nothing. Equal sizes alone never skip.
func DecideUpload(local Object, remote *Object) Decision {
	if remote == nil {
		return Decision{Action: Full, Reason: "remote absent"}
	}
	if fingerprint.Same(local.Size, local.Fingerprint, remote.Size, remote.Fingerprint) {
		return Decision{Action: Skip, Reason: "remote has identical content"}
	}
	if local.Size != remote.Size {
		return Decision{Action: Full, Reason: "size differs"}
	}
	return Decision{Action: Full, Reason: "fingerprint differs"}
}

// DecideDownload applies the download resume rule for a local partial file
// of localSize bytes (negative when absent). localFingerprint is only
// called when the sizes match.
func DecideDownload(localSize int64, remote Object, localFingerprint func() (string, error)) (Decision, error) {
	switch {
	case localSize <= 0:
		return Decision{Action: Full, Reason: "no local data"}, nil
	case localSize < remote.Size:
		return Decision{Action: Resume, Offset: localSize, Reason: "local file is a shorter partial"}, nil
	case localSize > remote.Size:
		return Decision{Action: Full, Reason: "local file larger than remote"}, nil
	}
	fp, err := localFingerprint()
	if err != nil {
		return Decision{}, err
	}
	if fingerprint.Same(localSize, fp, remote.Size, remote.Fingerprint) {
		return Decision{Action: Skip, Reason: "local has identical content"}, nil
	}
	return Decision{Action: Full, Reason: "fingerprint differs"}, nil
}
