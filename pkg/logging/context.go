package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey        contextKey = "trace_id"
	MessageIDKey      contextKey = "message_id"
	ServiceNameKey    contextKey = "service_name"
	BusinessDomainKey contextKey = "business_domain"
	LinkPartnerKey    contextKey = "link_partner"
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

// WithBusinessDomain scopes ctx to a business domain (message lane).
// The scope ends with the derived context; there is no global to reset.
func WithBusinessDomain(ctx context.Context, domain string) context.Context {
	return context.WithValue(ctx, BusinessDomainKey, domain)
}

func WithLinkPartner(ctx context.Context, partner string) context.Context {
	return context.WithValue(ctx, LinkPartnerKey, partner)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return stringValue(ctx, MessageIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, ServiceNameKey)
}

func GetBusinessDomain(ctx context.Context) string {
	return stringValue(ctx, BusinessDomainKey)
}

func GetLinkPartner(ctx context.Context) string {
	return stringValue(ctx, LinkPartnerKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 10)

	for _, key := range []contextKey{TraceIDKey, MessageIDKey, ServiceNameKey, BusinessDomainKey, LinkPartnerKey} {
		if v := stringValue(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}

	return fields
}
