package service

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/cardkey/internal/cardkey/store"
	"github.com/BrandonDHaskell/cardkey/internal/cardkey/types"
)

// Call describes the transport request a Gateway method serves.
type Call struct {
	Endpoint string
	Method   string
	Meta     RequestMeta
	Started  time.Time
}

// Gateway is the public API surface shared by every transport: it
// authenticates the caller, runs the operation, builds the envelope and
// records the API call.
type Gateway struct {
	gate   *CredentialGate
	verify *VerificationService
	query  *QueryService
	audit  AuditSink
	logger logrus.FieldLogger
}

func NewGateway(gate *CredentialGate, verify *VerificationService, query *QueryService, audit AuditSink, logger logrus.FieldLogger) *Gateway {
	if audit == nil {
		audit = discardSink{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Gateway{gate: gate, verify: verify, query: query, audit: audit, logger: logger}
}

func (g *Gateway) Verify(ctx context.Context, req types.VerifyRequest, call Call) types.Envelope {
	cred, err := g.gate.Authenticate(ctx, req.APIKey)
	if err != nil {
		return g.finish(ctx, nil, call, nil, err, "")
	}
	data, err := g.verify.Verify(ctx, cred, req, call.Meta)
	return g.finish(ctx, cred, call, data, err, "verification succeeded")
}

func (g *Gateway) Query(ctx context.Context, req types.QueryRequest, call Call) types.Envelope {
	cred, err := g.gate.Authenticate(ctx, req.APIKey)
	if err != nil {
		return g.finish(ctx, nil, call, nil, err, "")
	}
	data, err := g.query.Query(ctx, req)
	return g.finish(ctx, cred, call, data, err, "query succeeded")
}

// Reject builds the envelope for a request the transport could not decode.
// Nothing is recorded since no credential was resolved.
func (g *Gateway) Reject(err error) types.Envelope {
	return envelope(nil, err, "")
}

func (g *Gateway) finish(ctx context.Context, cred *store.Credential, call Call, data any, err error, okMsg string) types.Envelope {
	env := envelope(data, err, okMsg)
	if cred == nil {
		return env
	}

	started := call.Started
	if started.IsZero() {
		started = time.Now()
	}
	rec := store.APICallRecord{
		CredentialID: cred.ID,
		Endpoint:     call.Endpoint,
		Method:       call.Method,
		IPAddress:    call.Meta.IPAddress,
		UserAgent:    truncate(call.Meta.UserAgent, maxUserAgent),
		ResponseCode: env.Code.HTTPStatus(),
		ResponseTime: time.Since(started),
		CalledAt:     time.Now().UTC(),
		Success:      env.Success,
	}
	if !env.Success {
		rec.ErrorMessage = truncate(env.Message, maxErrorMessage)
	}
	if err := g.audit.RecordAPICall(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.WithError(err).WithField("endpoint", call.Endpoint).Warn("audit: api call record dropped")
	}
	return env
}

func envelope(data any, err error, okMsg string) types.Envelope {
	if err != nil {
		return types.Envelope{Code: CodeOf(err), Message: ClientMessage(err)}
	}
	if okMsg == "" {
		okMsg = ClientMessage(nil)
	}
	return types.Envelope{Code: types.CodeSuccess, Success: true, Message: okMsg, Data: data}
}
