package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus88/soulbound-signature/internal/config"
	"github.com/prometheus88/soulbound-signature/internal/payment"
	"github.com/prometheus88/soulbound-signature/pkg/metrics"
	"go.uber.org/zap"
)

// PaymentContextKey is where the settled payment lands for the handler the
// middleware gates.
const PaymentContextKey = "settled_payment"

// PaymentMiddleware gates document creation behind the payment challenge
// handshake. Every failure mode answers with a fresh 402 challenge and a
// reason; facilitator trouble is a retryable challenge, never a 5xx. No
// side effect happens before settlement succeeds.
type PaymentMiddleware struct {
	cfg         config.PaymentConfig
	facilitator payment.Facilitator
	logger      *zap.Logger
	metrics     *metrics.MetricsCollector
	resource    string
}

func NewPaymentMiddleware(cfg config.PaymentConfig, facilitator payment.Facilitator, resource string, logger *zap.Logger, metricsCollector *metrics.MetricsCollector) *PaymentMiddleware {
	return &PaymentMiddleware{
		cfg:         cfg,
		facilitator: facilitator,
		logger:      logger.With(zap.String("middleware", "payment")),
		metrics:     metricsCollector,
		resource:    resource,
	}
}

func (pm *PaymentMiddleware) challenge(c *gin.Context, reqs payment.Requirements, reason string) {
	pm.metrics.IncrementCounter("payment_challenges", nil)
	body := gin.H{
		"x402Version": payment.ProtocolVersion,
		"accepts":     []payment.Requirements{reqs},
	}
	if reason != "" {
		body["error"] = reason
	}
	c.AbortWithStatusJSON(http.StatusPaymentRequired, body)
}

func (pm *PaymentMiddleware) RequirePayment() gin.HandlerFunc {
	return func(c *gin.Context) {
		reqs := payment.BuildRequirements(pm.cfg, pm.resource)

		header := c.GetHeader("X-Payment")
		if header == "" {
			pm.challenge(c, reqs, "")
			return
		}

		proof, err := payment.DecodePayload(header)
		if err != nil {
			pm.challenge(c, reqs, "malformed payment payload")
			return
		}

		ctx := c.Request.Context()
		verification, err := pm.facilitator.Verify(ctx, proof, reqs)
		if err != nil {
			pm.logger.Warn("facilitator verify unreachable", zap.Error(err))
			pm.challenge(c, reqs, "payment verification unavailable, retry with a fresh payment")
			return
		}
		if !verification.IsValid {
			reason := verification.InvalidReason
			if reason == "" {
				reason = "payment proof is invalid"
			}
			pm.challenge(c, reqs, reason)
			return
		}

		settlement, err := pm.facilitator.Settle(ctx, proof, reqs)
		if err != nil {
			pm.logger.Warn("facilitator settle unreachable", zap.Error(err))
			pm.challenge(c, reqs, "payment settlement unavailable, retry with a fresh payment")
			return
		}
		if !settlement.Success {
			reason := settlement.ErrorReason
			if reason == "" {
				reason = "payment settlement failed"
			}
			pm.challenge(c, reqs, reason)
			return
		}

		payer := settlement.Payer
		if payer == "" {
			payer = verification.Payer
		}
		network := settlement.Network
		if network == "" {
			network = pm.cfg.Network
		}

		pm.metrics.IncrementCounter("payments_settled", map[string]string{"network": network})
		pm.logger.Info("Payment settled",
			zap.String("tx", settlement.Transaction),
			zap.String("payer", payer),
			zap.String("network", network))

		c.Set(PaymentContextKey, &payment.SettledPayment{
			TxHash:  settlement.Transaction,
			Payer:   payer,
			Amount:  pm.cfg.PriceAtomic,
			Network: network,
		})
		c.Next()
	}
}

// SettledPaymentFrom extracts the settlement the middleware attached.
func SettledPaymentFrom(c *gin.Context) *payment.SettledPayment {
	v, ok := c.Get(PaymentContextKey)
	if !ok {
		return nil
	}
	p, _ := v.(*payment.SettledPayment)
	return p
}
