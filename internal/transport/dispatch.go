package transport

import (
	"time"

	"github.com/kutluhann/kadnet/internal/kaderr"
	"github.com/kutluhann/kadnet/internal/routing"
)

// dispatch runs an inbound Request against handler and builds the Response
// to send back. It is shared by TCP and Subnet so the two
// implementations cannot drift in how they validate and route requests.
func dispatch(handler Handler, req Request) Response {
	resp := Response{RandomID: req.RandomID, Sender: handler.SelfID()}

	sender := routing.Contact{ID: req.Sender, Endpoint: req.Protocol}

	switch req.Type {
	case Ping:
		if err := handler.HandlePing(sender); err != nil {
			resp.ErrorMessage = err.Error()
		}

	case Store:
		if req.Key == nil || req.ExpirationTimeSec == nil {
			resp.ErrorMessage = kaderr.ErrProtocol.Error()
			return resp
		}
		isCached := req.IsCached != nil && *req.IsCached
		ttl := time.Duration(*req.ExpirationTimeSec) * time.Second
		if err := handler.HandleStore(sender, *req.Key, req.Value, isCached, ttl); err != nil {
			resp.ErrorMessage = err.Error()
		}

	case FindNode:
		if req.Key == nil {
			resp.ErrorMessage = kaderr.ErrProtocol.Error()
			return resp
		}
		contacts, err := handler.HandleFindNode(sender, *req.Key)
		if err != nil {
			resp.ErrorMessage = err.Error()
			return resp
		}
		resp.Contacts = contacts

	case FindValue:
		if req.Key == nil {
			resp.ErrorMessage = kaderr.ErrProtocol.Error()
			return resp
		}
		contacts, value, err := handler.HandleFindValue(sender, *req.Key)
		if err != nil {
			resp.ErrorMessage = err.Error()
			return resp
		}
		resp.Contacts = contacts
		resp.Value = value

	default:
		resp.ErrorMessage = kaderr.ErrUnknownRequest.Error()
	}

	return resp
}

func boolPtr(v bool) *bool { return &v }

func uint32Ptr(v uint32) *uint32 { return &v }
