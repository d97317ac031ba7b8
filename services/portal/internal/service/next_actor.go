package service

import "github.com/AfshinJalili/regportal/services/portal/internal/storage"

type NextActor string

const (
	NextActorRequester   NextActor = "requester"
	NextActorEntityAdmin NextActor = "entity_admin"
	NextActorUKNF        NextActor = "uknf"
	NextActorNone        NextActor = "none"
)

// ComputeNextActor derives whose move it is from the request status and its
// lines. It is never stored.
func ComputeNextActor(status storage.RequestStatus, lines []storage.Line) NextActor {
	switch status {
	case storage.RequestStatusDraft, storage.RequestStatusUpdated:
		return NextActorRequester
	case storage.RequestStatusApproved, storage.RequestStatusBlocked:
		return NextActorNone
	}

	actionable := false
	for _, line := range lines {
		if !line.Status.Actionable() {
			continue
		}
		if line.RequiresEntityAdmin() {
			return NextActorUKNF
		}
		actionable = true
	}
	if actionable {
		return NextActorEntityAdmin
	}
	return NextActorNone
}

// resolveStatus applies the aggregate rule once no line is left to decide:
// all approved gives approved, anything blocked gives blocked.
func resolveStatus(req *storage.AccessRequest) {
	if len(req.Lines) == 0 {
		return
	}
	blocked := false
	for _, line := range req.Lines {
		if line.Status.Actionable() {
			return
		}
		if line.Status == storage.LineStatusBlocked {
			blocked = true
		}
	}
	if blocked {
		req.Status = storage.RequestStatusBlocked
		return
	}
	req.Status = storage.RequestStatusApproved
}
