package server

import (
	"context"
	"log/slog"
	"strings"
	"time"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	authv3 "github.com/envoyproxy/go-control-plane/envoy/service/auth/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/genproto/googleapis/rpc/status"
	"google.golang.org/grpc/codes"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alechenninger/tollgate/internal/backend"
	"github.com/alechenninger/tollgate/internal/engine"
	"github.com/alechenninger/tollgate/internal/metrics"
	"github.com/alechenninger/tollgate/internal/probe"
	"github.com/alechenninger/tollgate/internal/trust"
)

// jwtAuthnFilterName is the filter metadata namespace verified JWT claims are
// exposed under, matching Envoy's jwt_authn filter.
const jwtAuthnFilterName = "envoy.filters.http.jwt_authn"

// jwtAuthnClaimsKey is the metadata key claims are stored at within the
// jwt_authn namespace.
const jwtAuthnClaimsKey = "verified_jwt"

// AuthzServer implements Envoy's ext_authz Authorization service. Each check
// resolves the target service and credential, then asks the backend to
// authorize and report the request's usage.
type AuthzServer struct {
	authv3.UnimplementedAuthorizationServer

	matcher   *engine.Matcher
	backend   backend.Authorizer
	validator trust.Validator // optional, nil disables local JWT verification
	observer  probe.CheckObserver
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// AuthzServerConfig configures an AuthzServer
type AuthzServerConfig struct {
	Matcher *engine.Matcher
	Backend backend.Authorizer

	// Validator optionally verifies Bearer JWTs locally, exposing claims
	// the way an upstream jwt_authn filter would
	Validator trust.Validator

	Observer probe.CheckObserver
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// NewAuthzServer creates a new ext_authz server
func NewAuthzServer(config AuthzServerConfig) *AuthzServer {
	observer := config.Observer
	if observer == nil {
		observer = probe.NopObserver{}
	}
	m := config.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthzServer{
		matcher:   config.Matcher,
		backend:   config.Backend,
		validator: config.Validator,
		observer:  observer,
		metrics:   m,
		logger:    logger,
	}
}

// Check implements the ext_authz check endpoint
func (s *AuthzServer) Check(ctx context.Context, req *authv3.CheckRequest) (*authv3.CheckResponse, error) {
	started := time.Now()

	httpReq := req.GetAttributes().GetRequest().GetHttp()
	if httpReq == nil {
		return denyResponse(codes.InvalidArgument, typev3.StatusCode_BadRequest,
			"no HTTP request attributes"), nil
	}

	ctx, checkProbe := s.observer.CheckStarted(ctx, httpReq.GetHost(), httpReq.GetMethod(), httpReq.GetPath())
	defer checkProbe.End()

	request := newCheckRequest(req, s.verifiedClaims(ctx, httpReq.GetHeaders()))

	result, err := s.matcher.Authorize(request)
	if err != nil {
		checkProbe.CheckRejected(err)
		s.metrics.RecordCheck("", "rejected", time.Since(started).Seconds())
		return denyResponse(codes.PermissionDenied, typev3.StatusCode_Forbidden, err.Error()), nil
	}
	checkProbe.CredentialResolved(result)

	decision, err := s.authrep(ctx, result)
	if err != nil {
		checkProbe.BackendFailed(err)
		s.metrics.RecordCheck(result.Service.ID, "error", time.Since(started).Seconds())
		return denyResponse(codes.Unavailable, typev3.StatusCode_ServiceUnavailable,
			"authorization backend unavailable"), nil
	}
	checkProbe.BackendDecided(decision.Authorized, decision.Reason)

	if !decision.Authorized {
		s.metrics.RecordCheck(result.Service.ID, "denied", time.Since(started).Seconds())
		message := "access denied"
		if decision.Reason != "" {
			message = decision.Reason
		}
		return denyResponse(codes.PermissionDenied, typev3.StatusCode_Forbidden, message), nil
	}

	s.metrics.RecordCheck(result.Service.ID, "allowed", time.Since(started).Seconds())
	return okResponse(result), nil
}

// verifiedClaims validates a Bearer JWT when a validator is configured,
// returning claims shaped like jwt_authn filter metadata. Validation failure
// is not terminal here: a service that requires the claims will simply find
// no credentials.
func (s *AuthzServer) verifiedClaims(ctx context.Context, headers map[string]string) map[string]*structpb.Struct {
	if s.validator == nil {
		return nil
	}
	token, ok := strings.CutPrefix(headers["authorization"], "Bearer ")
	if !ok {
		return nil
	}

	result, err := s.validator.Validate(ctx, token)
	if err != nil {
		s.metrics.RecordJWTValidation("", false)
		s.logger.DebugContext(ctx, "JWT validation failed", "error", err)
		return nil
	}
	s.metrics.RecordJWTValidation(result.Issuer, true)

	claims, err := structpb.NewStruct(result.Claims)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to convert JWT claims to metadata", "error", err)
		return nil
	}
	return map[string]*structpb.Struct{
		jwtAuthnFilterName: {
			Fields: map[string]*structpb.Value{
				jwtAuthnClaimsKey: structpb.NewStructValue(claims),
			},
		},
	}
}

func (s *AuthzServer) authrep(ctx context.Context, result *engine.Result) (*backend.Decision, error) {
	started := time.Now()

	req := backend.Request{
		ServiceID:    result.Service.ID,
		ServiceToken: result.Service.Token,
		Usage:        result.Usage,
	}
	switch result.AppKind {
	case engine.AppUserKey:
		req.UserKey = result.Application
	default:
		req.AppID = result.Application
	}

	decision, err := s.backend.AuthRep(ctx, req)
	if err != nil {
		s.metrics.RecordAuthrepCall("error", time.Since(started).Seconds())
		return nil, err
	}
	outcome := "denied"
	if decision.Authorized {
		outcome = "authorized"
	}
	s.metrics.RecordAuthrepCall(outcome, time.Since(started).Seconds())
	return decision, nil
}

// okResponse allows the request and annotates it for upstream filters
func okResponse(result *engine.Result) *authv3.CheckResponse {
	return &authv3.CheckResponse{
		Status: &status.Status{
			Code: int32(codes.OK),
		},
		HttpResponse: &authv3.CheckResponse_OkResponse{
			OkResponse: &authv3.OkHttpResponse{
				Headers: []*corev3.HeaderValueOption{
					{
						Header: &corev3.HeaderValue{
							Key:   "x-tollgate-service",
							Value: result.Service.ID,
						},
					},
				},
			},
		},
	}
}

// denyResponse creates a denial response with both the gRPC status and the
// HTTP status Envoy should surface
func denyResponse(code codes.Code, httpStatus typev3.StatusCode, message string) *authv3.CheckResponse {
	return &authv3.CheckResponse{
		Status: &status.Status{
			Code:    int32(code),
			Message: message,
		},
		HttpResponse: &authv3.CheckResponse_DeniedResponse{
			DeniedResponse: &authv3.DeniedHttpResponse{
				Status: &typev3.HttpStatus{
					Code: httpStatus,
				},
				Body: message,
			},
		},
	}
}
