package wire

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/roach88/recsync/internal/ir"
	"github.com/roach88/recsync/internal/restriction"
)

// Action is the operation a request asks for.
type Action string

const (
	ActionOpen    Action = "open"
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
	ActionList    Action = "list"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionOpen, ActionCreate, ActionUpdate, ActionDestroy, ActionList:
		return true
	}
	return false
}

// IsWrite reports whether a changes server state.
func (a Action) IsWrite() bool {
	return a == ActionCreate || a == ActionUpdate || a == ActionDestroy
}

// Request is one round trip to the server.
type Request struct {
	ID     string      `json:"id"`
	Store  string      `json:"store"`
	Action Action      `json:"action"`
	Items  []Item      `json:"items,omitempty"`
	List   *ListParams `json:"list,omitempty"`
}

// ListParams selects the records of a list load.
type ListParams struct {
	Folders     []string             `json:"folders,omitempty"`
	Restriction restriction.Envelope `json:"restriction,omitzero"`
	Sort        []SortKey            `json:"sort,omitempty"`
	Start       int                  `json:"start,omitempty"`
	Limit       int                  `json:"limit,omitempty"`
}

// SortKey orders list results.
type SortKey struct {
	Field      string `json:"field"`
	Descending bool   `json:"desc,omitempty"`
}

// Item is one record in a request.
type Item struct {
	// ID is the entry id, or the temporary id of a record being created.
	ID           string `json:"id"`
	MessageClass string `json:"message_class,omitempty"`
	ObjectType   int    `json:"object_type,omitempty"`
	// Version is the server version the client last saw.
	Version   int64                       `json:"version,omitempty"`
	Props     ir.IRObject                 `json:"props,omitempty"`
	SubStores map[string]*SubStoreChanges `json:"substores,omitempty"`
	Actions   []MessageAction             `json:"message_action,omitempty"`
}

// SubStoreChanges lists the pending changes of one child collection.
type SubStoreChanges struct {
	Add    []ir.IRObject `json:"add,omitempty"`
	Modify []ir.IRObject `json:"modify,omitempty"`
	Remove []ir.IRObject `json:"remove,omitempty"`
}

// Empty reports whether there is nothing to send.
func (c *SubStoreChanges) Empty() bool {
	return c == nil || len(c.Add) == 0 && len(c.Modify) == 0 && len(c.Remove) == 0
}

// MessageAction asks the server to copy or move the message.
type MessageAction struct {
	Type  string      `json:"type"`
	Props ir.IRObject `json:"props,omitempty"`
}

// Response answers a Request.
type Response struct {
	// ID echoes the request id.
	ID     string         `json:"id"`
	Store  string         `json:"store,omitempty"`
	Action Action         `json:"action"`
	Items  []ResponseItem `json:"items,omitempty"`
	// Total is the number of matching records of a list, ignoring
	// Start and Limit.
	Total int    `json:"total,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// ResponseItem is the server's view of one record after the request.
type ResponseItem struct {
	ID string `json:"id"`
	// TempID echoes the temporary id of a created record.
	TempID    string                   `json:"temp_id,omitempty"`
	Version   int64                    `json:"version,omitempty"`
	Props     ir.IRObject              `json:"props,omitempty"`
	SubStores map[string][]ir.IRObject `json:"substores,omitempty"`
	Deleted   bool                     `json:"deleted,omitempty"`
}

// Error codes returned by servers.
const (
	CodeNotFound = "not_found"
	CodeConflict = "conflict"
	CodeInvalid  = "invalid"
	CodeInternal = "internal"
)

// Error is a failed request as reported by the server.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("server error %s: %s", e.Code, e.Message)
}

// Failure wraps err as a Response for req. A *Error is passed through;
// anything else becomes CodeInternal.
func Failure(req *Request, err error) *Response {
	var we *Error
	if !errors.As(err, &we) {
		we = &Error{Code: CodeInternal, Message: err.Error()}
	}
	return &Response{ID: req.ID, Store: req.Store, Action: req.Action, Error: we}
}

// NewRequestID returns a fresh lexically sortable request id.
func NewRequestID() string {
	return ulid.Make().String()
}

// Payload returns the response items as one value, for content hashing.
func (r *Response) Payload() ir.IRValue {
	arr := make(ir.IRArray, 0, len(r.Items))
	for _, item := range r.Items {
		arr = append(arr, item.IR())
	}
	return arr
}

// IR returns the item as a plain value.
func (it ResponseItem) IR() ir.IRObject {
	obj := ir.IRObject{"id": ir.IRString(it.ID)}
	if it.TempID != "" {
		obj["temp_id"] = ir.IRString(it.TempID)
	}
	if it.Version != 0 {
		obj["version"] = ir.IRInt(it.Version)
	}
	if it.Deleted {
		obj["deleted"] = ir.IRBool(true)
	}
	if it.Props != nil {
		obj["props"] = it.Props.Clone()
	}
	if len(it.SubStores) > 0 {
		subs := ir.IRObject{}
		for name, children := range it.SubStores {
			arr := make(ir.IRArray, len(children))
			for i, c := range children {
				arr[i] = c.Clone()
			}
			subs[name] = arr
		}
		obj["substores"] = subs
	}
	return obj
}
