package core

import (
	"testing"
	"time"
)

func TestTerminal(t *testing.T) {
	terminal := []RunStatus{StatusSucceeded, StatusRejected, StatusFailed, StatusTimedOut}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}

	active := []RunStatus{StatusPlanning, StatusAwaitingApproval, StatusGathering, StatusDelivering}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("expected %s not to be terminal", s)
		}
	}
}

func TestApprovalMessageRef(t *testing.T) {
	rec := RunRecord{ParentRef: "parent"}
	if got := rec.ApprovalMessageRef(); got != "parent" {
		t.Errorf("expected fallback to parent ref, got %q", got)
	}

	rec.ApprovalRef = "approval"
	if got := rec.ApprovalMessageRef(); got != "approval" {
		t.Errorf("expected approval ref, got %q", got)
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()

	past := RunRecord{DeadlineAt: now.Add(-time.Minute).UnixMilli()}
	if !past.Expired(now) {
		t.Error("expected past deadline to be expired")
	}

	future := RunRecord{DeadlineAt: now.Add(time.Minute).UnixMilli()}
	if future.Expired(now) {
		t.Error("expected future deadline not to be expired")
	}
}

func TestSystemTimeoutDecision(t *testing.T) {
	d := SystemTimeoutDecision()

	if d.Approved {
		t.Error("timeout decision must not approve")
	}
	if d.Approver != "system" {
		t.Errorf("expected system approver, got %q", d.Approver)
	}
	if d.Reason != "timeout" {
		t.Errorf("expected timeout reason, got %q", d.Reason)
	}
}

func TestIsNotResumable(t *testing.T) {
	if !IsNotResumable(ErrNotSuspended) {
		t.Error("ErrNotSuspended should be a benign resume failure")
	}
	if !IsNotResumable(ErrUnknownRun) {
		t.Error("ErrUnknownRun should be a benign resume failure")
	}
	if IsNotResumable(ErrRunNotFound) {
		t.Error("ErrRunNotFound is not a resume race")
	}
}
