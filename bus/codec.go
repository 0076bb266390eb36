package bus

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mapring/discovery"
	"mapring/mapping"
	"mapring/utils"
)

// Wire formats, one message per line:
//
//	PROPOSE <msgid> <origin> <platform> <typeid> <marker> <class>
//	ACCEPT  <msgid> <platform> <typeid> <class>
//	REJECT  <msgid> <proposalid> <origin> <platform> <typeid> <class> <conflicting>
//	ABORT   <msgid> <proposalid> <origin> <platform> <typeid> <class>
//
// marker is "-", "DUP" or "REJ:<conflicting class>". A rejected proposal is
// sent as REJ only; the duplicate flag no longer matters once rejected.

// Encode renders msg as a single line without the trailing newline.
func Encode(msg discovery.CustomMessage) (string, error) {
	switch m := msg.(type) {
	case mapping.Proposal:
		marker := "-"
		switch {
		case m.Rejected():
			marker = "REJ:" + m.Conflicting
		case m.Duplicate:
			marker = "DUP"
		}
		return fmt.Sprintf("PROPOSE %s %s %d %d %s %s",
			m.MessageID, m.Origin, m.Item.PlatformID, m.Item.TypeID, marker, m.Item.ClassName), nil
	case mapping.Accepted:
		return fmt.Sprintf("ACCEPT %s %d %d %s",
			m.MessageID, m.Item.PlatformID, m.Item.TypeID, m.Item.ClassName), nil
	case mapping.Rejected:
		return fmt.Sprintf("REJECT %s %s %s %d %d %s %s",
			m.MessageID, m.ProposalID, m.Origin, m.Item.PlatformID, m.Item.TypeID, m.Item.ClassName, m.Conflicting), nil
	case mapping.Aborted:
		return fmt.Sprintf("ABORT %s %s %s %d %d %s",
			m.MessageID, m.ProposalID, m.Origin, m.Item.PlatformID, m.Item.TypeID, m.Item.ClassName), nil
	}
	return "", fmt.Errorf("bus: cannot encode %T", msg)
}

// Decode parses the fields of an encoded message.
func Decode(parts []string) (discovery.CustomMessage, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("bus: empty message")
	}

	switch strings.ToUpper(parts[0]) {
	case "PROPOSE":
		if len(parts) != 7 {
			return nil, fmt.Errorf("bus: usage: PROPOSE MSGID ORIGIN PLATFORM TYPEID MARKER CLASS")
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bus: invalid message id: %w", err)
		}
		item, err := parseItem(parts[3], parts[4], parts[6])
		if err != nil {
			return nil, err
		}
		p := mapping.Proposal{MessageID: id, Origin: parts[2], Item: item}
		switch marker := parts[5]; {
		case marker == "-":
		case marker == "DUP":
			p = p.MarkDuplicate()
		case strings.HasPrefix(marker, "REJ:") && len(marker) > len("REJ:"):
			p = p.Reject(strings.TrimPrefix(marker, "REJ:"))
		default:
			return nil, fmt.Errorf("bus: invalid proposal marker %q", marker)
		}
		return p, nil

	case "ACCEPT":
		if len(parts) != 5 {
			return nil, fmt.Errorf("bus: usage: ACCEPT MSGID PLATFORM TYPEID CLASS")
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bus: invalid message id: %w", err)
		}
		item, err := parseItem(parts[2], parts[3], parts[4])
		if err != nil {
			return nil, err
		}
		return mapping.Accepted{MessageID: id, Item: item}, nil

	case "REJECT":
		if len(parts) != 8 {
			return nil, fmt.Errorf("bus: usage: REJECT MSGID PROPOSALID ORIGIN PLATFORM TYPEID CLASS CONFLICTING")
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bus: invalid message id: %w", err)
		}
		proposalID, err := uuid.Parse(parts[2])
		if err != nil {
			return nil, fmt.Errorf("bus: invalid proposal id: %w", err)
		}
		item, err := parseItem(parts[4], parts[5], parts[6])
		if err != nil {
			return nil, err
		}
		return mapping.Rejected{
			MessageID:   id,
			ProposalID:  proposalID,
			Origin:      parts[3],
			Item:        item,
			Conflicting: parts[7],
		}, nil

	case "ABORT":
		if len(parts) != 7 {
			return nil, fmt.Errorf("bus: usage: ABORT MSGID PROPOSALID ORIGIN PLATFORM TYPEID CLASS")
		}
		id, err := uuid.Parse(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bus: invalid message id: %w", err)
		}
		proposalID, err := uuid.Parse(parts[2])
		if err != nil {
			return nil, fmt.Errorf("bus: invalid proposal id: %w", err)
		}
		item, err := parseItem(parts[4], parts[5], parts[6])
		if err != nil {
			return nil, err
		}
		return mapping.Aborted{MessageID: id, ProposalID: proposalID, Origin: parts[3], Item: item}, nil
	}
	return nil, fmt.Errorf("bus: unknown message %q", parts[0])
}

func parseItem(platform, typeID, className string) (mapping.Item, error) {
	p, err := utils.ParsePlatform(platform)
	if err != nil {
		return mapping.Item{}, err
	}
	t, err := utils.ParseTypeID(typeID)
	if err != nil {
		return mapping.Item{}, err
	}
	return mapping.NewItem(p, t, className)
}

