package model

import "testing"

func TestNextVoteState(t *testing.T) {
	tests := []struct {
		name     string
		current  VoteType
		clicked  VoteType
		wantNext VoteType
		wantUp   int
		wantDown int
	}{
		{"none to upvote", VoteTypeNone, VoteTypeUpvote, VoteTypeUpvote, 1, 0},
		{"none to downvote", VoteTypeNone, VoteTypeDownvote, VoteTypeDownvote, 0, 1},
		{"upvote toggled off", VoteTypeUpvote, VoteTypeUpvote, VoteTypeNone, -1, 0},
		{"downvote toggled off", VoteTypeDownvote, VoteTypeDownvote, VoteTypeNone, 0, -1},
		{"upvote flipped to downvote", VoteTypeUpvote, VoteTypeDownvote, VoteTypeDownvote, -1, 1},
		{"downvote flipped to upvote", VoteTypeDownvote, VoteTypeUpvote, VoteTypeUpvote, 1, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextVoteState(tt.current, tt.clicked)
			if got.Next != tt.wantNext {
				t.Errorf("Next = %q, want %q", got.Next, tt.wantNext)
			}
			if got.UpvoteDelta != tt.wantUp {
				t.Errorf("UpvoteDelta = %d, want %d", got.UpvoteDelta, tt.wantUp)
			}
			if got.DownvoteDelta != tt.wantDown {
				t.Errorf("DownvoteDelta = %d, want %d", got.DownvoteDelta, tt.wantDown)
			}
		})
	}
}

// 同じ種別を2回クリックすると元のカウンタに戻ること
func TestNextVoteState_ToggleRestoresCounters(t *testing.T) {
	up, down := 10, 3
	state := VoteTypeNone
	for i := 0; i < 2; i++ {
		tr := NextVoteState(state, VoteTypeUpvote)
		up += tr.UpvoteDelta
		down += tr.DownvoteDelta
		state = tr.Next
	}
	if up != 10 || down != 3 {
		t.Errorf("counters = (%d, %d), want (10, 3)", up, down)
	}
	if state != VoteTypeNone {
		t.Errorf("state = %q, want none", state)
	}
}

func TestVoteType_IsValid(t *testing.T) {
	if !VoteTypeUpvote.IsValid() || !VoteTypeDownvote.IsValid() {
		t.Error("upvote/downvote should be valid")
	}
	if VoteTypeNone.IsValid() || VoteType("sideways").IsValid() {
		t.Error("none and unknown vote types should be invalid")
	}
}
