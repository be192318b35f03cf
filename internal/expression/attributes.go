package expression

import "connector/pkg/models"

type Attribute string

const (
	AttrServiceName     Attribute = "ServiceName"
	AttrServiceType     Attribute = "ServiceType"
	AttrAction          Attribute = "Action"
	AttrFromPartyID     Attribute = "FromPartyId"
	AttrFromPartyIDType Attribute = "FromPartyIdType"
	AttrFromPartyRole   Attribute = "FromPartyRole"
	AttrToPartyID       Attribute = "ToPartyId"
	AttrToPartyIDType   Attribute = "ToPartyIdType"
	AttrToPartyRole     Attribute = "ToPartyRole"
	AttrFinalRecipient  Attribute = "FinalRecipient"
	AttrOriginalSender  Attribute = "OriginalSender"
)

var attributes = map[string]Attribute{
	string(AttrServiceName):     AttrServiceName,
	string(AttrServiceType):     AttrServiceType,
	string(AttrAction):          AttrAction,
	string(AttrFromPartyID):     AttrFromPartyID,
	string(AttrFromPartyIDType): AttrFromPartyIDType,
	string(AttrFromPartyRole):   AttrFromPartyRole,
	string(AttrToPartyID):       AttrToPartyID,
	string(AttrToPartyIDType):   AttrToPartyIDType,
	string(AttrToPartyRole):     AttrToPartyRole,
	string(AttrFinalRecipient):  AttrFinalRecipient,
	string(AttrOriginalSender):  AttrOriginalSender,
	"FromParty":                 AttrFromPartyID,
	"ToParty":                   AttrToPartyID,
}

// LookupAttribute resolves a name used in a clause, including aliases.
func LookupAttribute(name string) (Attribute, bool) {
	a, ok := attributes[name]
	return a, ok
}

// AttributeSource supplies attribute values. ok is false when the value is absent.
type AttributeSource interface {
	Attribute(name Attribute) (value string, ok bool)
}

// MapSource is an AttributeSource backed by a map.
type MapSource map[Attribute]string

func (m MapSource) Attribute(name Attribute) (string, bool) {
	v, ok := m[name]
	return v, ok && v != ""
}

type messageSource struct {
	details models.MessageDetails
}

// FromMessage exposes the routing relevant details of msg.
func FromMessage(msg *models.Message) AttributeSource {
	if msg == nil {
		return MapSource(nil)
	}
	return messageSource{details: msg.Details}
}

func (s messageSource) Attribute(name Attribute) (string, bool) {
	d := s.details
	var v string
	switch name {
	case AttrServiceName:
		v = d.Service.Name
	case AttrServiceType:
		v = d.Service.Type
	case AttrAction:
		v = d.Action
	case AttrFromPartyID:
		v = d.FromParty.ID
	case AttrFromPartyIDType:
		v = d.FromParty.IDType
	case AttrFromPartyRole:
		v = d.FromParty.Role
	case AttrToPartyID:
		v = d.ToParty.ID
	case AttrToPartyIDType:
		v = d.ToParty.IDType
	case AttrToPartyRole:
		v = d.ToParty.Role
	case AttrFinalRecipient:
		v = d.FinalRecipient
	case AttrOriginalSender:
		v = d.OriginalSender
	}
	return v, v != ""
}

// AsMap returns every attribute the message provides. Used by the CEL dialect.
func AsMap(src AttributeSource) map[string]string {
	out := make(map[string]string)
	for name, attr := range attributes {
		if name != string(attr) {
			continue
		}
		if v, ok := src.Attribute(attr); ok {
			out[name] = v
		}
	}
	return out
}
