package courier

// rule is a single check on an envelope field. Rules of an envelope are
// all evaluated so the caller learns about every problem at once.
type rule[T any] struct {
	field  string
	reason string
	valid  func(T) bool
}

func evaluate[T any](envelope string, v T, rules []rule[T]) error {
	var violations []Violation
	for _, r := range rules {
		if !r.valid(v) {
			violations = append(violations, Violation{Field: r.field, Reason: r.reason})
		}
	}
	if len(violations) == 0 {
		return nil
	}
	return &ValidationError{Envelope: envelope, Violations: violations}
}

var requestRules = []rule[*Request]{
	{
		field:  "id",
		reason: "must not be empty",
		valid:  func(r *Request) bool { return r.ID != "" },
	},
	{
		field:  "id",
		reason: "must be a non-nil UUID",
		valid:  func(r *Request) bool { return r.ID == "" || IsValidIdentifier(r.ID) },
	},
	{
		field:  "method",
		reason: "must be one of Get, Post, Put, Delete or Event",
		valid:  func(r *Request) bool { return r.Method.Valid() },
	},
	{
		field:  "route",
		reason: "must not be empty",
		valid:  func(r *Request) bool { return r.Route != "" },
	},
	{
		field:  "body",
		reason: "is required unless method is Get",
		valid:  func(r *Request) bool { return r.Method == MethodGet || r.Body != nil },
	},
}

var responseRules = []rule[*Response]{
	{
		field:  "id",
		reason: "must be a non-nil UUID",
		valid:  func(r *Response) bool { return IsValidIdentifier(r.ID) },
	},
	{
		field:  "request_id",
		reason: "must be a non-nil UUID",
		valid:  func(r *Response) bool { return IsValidIdentifier(r.RequestID) },
	},
	{
		field:  "route",
		reason: "must not be empty",
		valid:  func(r *Response) bool { return r.Route != "" },
	},
	{
		field:  "body",
		reason: "is required",
		valid:  func(r *Response) bool { return r.Body != nil },
	},
}

// ValidateRequest returns a [*ValidationError] listing every rule req
// violates, or nil.
func ValidateRequest(req *Request) error {
	if req == nil {
		return &ValidationError{Envelope: "request", Violations: []Violation{{Field: "request", Reason: "is nil"}}}
	}
	return evaluate("request", req, requestRules)
}

// ValidateResponse returns a [*ValidationError] listing every rule resp
// violates, or nil.
func ValidateResponse(resp *Response) error {
	if resp == nil {
		return &ValidationError{Envelope: "response", Violations: []Violation{{Field: "response", Reason: "is nil"}}}
	}
	return evaluate("response", resp, responseRules)
}
