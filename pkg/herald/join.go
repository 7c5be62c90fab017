package herald

import (
	"fmt"
	"strings"
)

// JoinPathway identifies how the platform reported a join.
type JoinPathway string

const (
	// JoinPathwayMessage is a join announced by a service message in the chat.
	JoinPathwayMessage JoinPathway = "message"
	// JoinPathwayTransition is a join observed as a membership status transition.
	JoinPathwayTransition JoinPathway = "transition"
)

// Validate checks whether one pathway is supported.
func (p JoinPathway) Validate() error {
	switch p {
	case JoinPathwayMessage, JoinPathwayTransition:
		return nil
	default:
		return fmt.Errorf("validate join pathway: unsupported pathway %q", p)
	}
}

// JoinSource is the classified origin of a membership.
type JoinSource string

const (
	// JoinSourceTelegram is an organic join without invite context.
	JoinSourceTelegram JoinSource = "telegram"
	// JoinSourceInviteLink is a join through an invite link.
	JoinSourceInviteLink JoinSource = "invite_link"
	// JoinSourceDiscord is a join through an invite link labeled for Discord.
	JoinSourceDiscord JoinSource = "discord"
	// JoinSourcePaid is an approved join observed as a membership transition.
	JoinSourcePaid JoinSource = "paid"
	// JoinSourceRequest is an approved join announced by a service message.
	JoinSourceRequest JoinSource = "request"
)

// Badge returns the marker appended to welcome texts, empty for organic joins.
func (s JoinSource) Badge() string {
	switch s {
	case JoinSourceInviteLink:
		return "🔗"
	case JoinSourceDiscord:
		return "🎮 Discord"
	case JoinSourcePaid:
		return "💎"
	case JoinSourceRequest:
		return "✅"
	default:
		return ""
	}
}

// InviteLink describes the invite attached to a join.
type InviteLink struct {
	// Label is the admin-assigned invite title, possibly empty.
	Label string
	// URL is the invite link when the platform exposes it.
	URL string
}

// JoinChange carries one join notification, possibly for several members.
type JoinChange struct {
	// Members lists the accounts that joined.
	Members []Actor
	// Pathway identifies how the platform reported the join.
	Pathway JoinPathway
	// ByRequest reports that the join was approved from a join request.
	ByRequest bool
	// Invite is set when the join used an invite link.
	Invite *InviteLink
	// Inviter identifies who added the members when available.
	Inviter *Actor
	// ServiceMessageID identifies the "user joined" service message, if any.
	ServiceMessageID string
}

// Facts projects the join onto the inputs of ClassifyJoin.
func (j *JoinChange) Facts(policy ChatPolicy) JoinFacts {
	if j == nil {
		return JoinFacts{}
	}

	facts := JoinFacts{
		JoinByRequest: j.ByRequest || policy.JoinByRequest,
		Pathway:       j.Pathway,
	}
	if j.Invite != nil {
		facts.HasInvite = true
		facts.InviteLabel = j.Invite.Label
	}

	return facts
}

// JoinFacts is the input of join classification.
type JoinFacts struct {
	JoinByRequest bool
	HasInvite     bool
	InviteLabel   string
	Pathway       JoinPathway
}

// ClassifyJoin maps join facts to a join source.
//
// Rules apply in priority order: join-by-request, Discord-labeled invite,
// any invite, organic.
func ClassifyJoin(facts JoinFacts) JoinSource {
	if facts.JoinByRequest {
		if facts.Pathway == JoinPathwayTransition {
			return JoinSourcePaid
		}
		return JoinSourceRequest
	}
	if facts.HasInvite && strings.Contains(strings.ToLower(facts.InviteLabel), "discord") {
		return JoinSourceDiscord
	}
	if facts.HasInvite {
		return JoinSourceInviteLink
	}

	return JoinSourceTelegram
}

// Labels returns registry labels describing the classified join.
func (facts JoinFacts) Labels() []string {
	labels := []string{string(facts.Pathway)}
	if facts.JoinByRequest {
		labels = append(labels, "join_request")
	}
	if facts.HasInvite {
		label := strings.TrimSpace(facts.InviteLabel)
		if label == "" {
			labels = append(labels, "invite")
		} else {
			labels = append(labels, "invite:"+label)
		}
	}

	return labels
}

// ChatPolicy carries chat-level flags that change moderation behavior.
type ChatPolicy struct {
	// ProtectedContent reports that forwarding and saving are disabled.
	ProtectedContent bool
	// JoinByRequest reports that joins require admin approval.
	JoinByRequest bool
	// JoinToSend reports that only members may send messages.
	JoinToSend bool
}

// PaidLike reports whether the chat is treated as closed.
//
// Closed chats never get new-member mutes or autodelete registration.
func (p ChatPolicy) PaidLike() bool {
	return p.ProtectedContent || p.JoinByRequest || p.JoinToSend
}
