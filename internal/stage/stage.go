package stage

import (
	"context"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"carepipe/internal/broker"
	"carepipe/internal/logger"
	"carepipe/pkg/codec"
	"carepipe/pkg/errors"
	"carepipe/pkg/logging"
	"carepipe/pkg/models"
)

const maxRequestBytes = 16 << 20

// Stage binds one processing function to its direct-call operation and its input queue.
type Stage[In, Out any] struct {
	Name      string
	Operation string
	Process   func(ctx context.Context, in In) (Out, error)
	// Forward publishes the result downstream when a delivery carries no reply-to. Nil means the
	// stage is terminal for the chained flow.
	Forward func(ctx context.Context, out Out) error
}

// Respond converts a stage result into the shared response body.
func Respond(out any, err error) (models.StageResponse, error) {
	if err != nil {
		var appErr *errors.Error
		if !errors.As(err, &appErr) {
			appErr = errors.ErrInternal.WithCause(err)
		}
		return models.StageResponse{Success: false, Error: appErr.Message, ErrorCode: appErr.Code}, nil
	}

	raw, merr := codec.Marshal(out)
	if merr != nil {
		return models.StageResponse{}, errors.ErrInternal.WithMessage("failed to encode stage result").WithCause(merr)
	}
	return models.StageResponse{Success: true, Result: raw}, nil
}

// Handle registers POST /<operation> for s. The body is the previous stage's record.
func Handle[In, Out any](r gin.IRoutes, s Stage[In, Out]) {
	r.POST("/"+s.Operation, func(c *gin.Context) {
		ctx := logging.WithStage(c.Request.Context(), s.Name)

		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxRequestBytes))
		if err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrDecode.WithCause(err)))
			return
		}

		var in In
		if err := codec.Unmarshal(body, &in); err != nil {
			c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrDecode.WithMessage("request body is not a valid %s record", s.Name).WithCause(err)))
			return
		}

		out, err := s.Process(ctx, in)
		if err != nil {
			c.JSON(errors.ToHTTPStatus(err), errors.ToErrorResponse(err))
			return
		}

		resp, err := Respond(out, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, errors.ToErrorResponse(err))
			return
		}
		c.JSON(http.StatusOK, resp)
	})
}

// DeliveryHandler processes a broker delivery. Requests carrying a reply-to are answered on the
// reply queue; all others are forwarded to the next stage.
func DeliveryHandler[In, Out any](s Stage[In, Out], transport broker.Transport, log logger.Logger) broker.RecordHandler[In] {
	return func(ctx context.Context, in In, d broker.Delivery) error {
		ctx = logging.WithStage(ctx, s.Name)

		out, err := s.Process(ctx, in)

		if d.ReplyTo != "" {
			resp, rerr := Respond(out, err)
			if rerr != nil {
				return rerr
			}
			if perr := broker.Reply(ctx, transport, d, resp); perr != nil {
				log.WarnwCtx(ctx, "Failed to publish stage reply", "reply_to", d.ReplyTo, "error", perr)
				return perr
			}
			return nil
		}

		if err != nil {
			return err
		}
		if s.Forward == nil {
			return nil
		}
		return s.Forward(ctx, out)
	}
}
