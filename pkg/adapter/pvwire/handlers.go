package pvwire

import (
	"context"
	"errors"
	"strings"

	"github.com/marmos91/atipioc/internal/logger"
	"github.com/marmos91/atipioc/internal/protocol/pvwire"
	"github.com/marmos91/atipioc/pkg/record"
)

// handle executes one decoded request against the database.
func (s *Adapter) handle(ctx context.Context, req *pvwire.Request) *pvwire.Reply {
	reply := &pvwire.Reply{XID: req.XID, Status: pvwire.StatusOK}

	db := s.db.Load()
	if db == nil {
		reply.Status = pvwire.StatusInternal
		reply.Message = "database not loaded"
		return reply
	}

	if req.Op == pvwire.OpList {
		reply.Value = pvwire.FromRecord(record.String(strings.Join(db.Names(), "\n")))
		return reply
	}

	rec, ok := db.Lookup(req.Name)
	if !ok {
		reply.Status = pvwire.StatusNotFound
		reply.Message = req.Name
		return reply
	}

	switch req.Op {
	case pvwire.OpGet:
		reply.Value = pvwire.FromRecord(rec.Get())

	case pvwire.OpGetCtrl:
		reply.Value = pvwire.FromRecord(rec.Get())
		reply.Ctrl = pvwire.CtrlFor(rec)

	case pvwire.OpPut:
		committed, err := rec.Write(ctx, req.Value.Record())
		reply.Value = pvwire.FromRecord(rec.Get())
		if err != nil {
			reply.Status = putStatus(err)
			reply.Message = err.Error()
			if reply.Status == pvwire.StatusInternal {
				logger.Warn("pvwire PUT %s=%s: %v", req.Name, committed, err)
			}
		}

	default:
		reply.Status = pvwire.StatusBadRequest
		reply.Message = "unknown operation"
	}

	return reply
}

func putStatus(err error) uint32 {
	switch {
	case errors.Is(err, record.ErrReadOnly):
		return pvwire.StatusReadOnly
	case errors.Is(err, record.ErrTypeMismatch), errors.Is(err, record.ErrOutOfRange):
		return pvwire.StatusBadValue
	default:
		return pvwire.StatusInternal
	}
}
