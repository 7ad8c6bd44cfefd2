package baseapi

import (
	"encoding/base64"
	"time"

	"github.com/weaveproject/weave/pkg/command"
	"github.com/weaveproject/weave/pkg/errs"
	"github.com/weaveproject/weave/pkg/jsonval"
	"github.com/weaveproject/weave/pkg/revocation"
)

// j2000Epoch is the reference point revocationTimestamp/expirationTime
// are counted in seconds from (spec.md §4.9).
var j2000Epoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

func j2000ToTime(seconds float64) time.Time {
	return j2000Epoch.Add(time.Duration(seconds * float64(time.Second)))
}

func timeToJ2000(t time.Time) float64 {
	return t.Sub(j2000Epoch).Seconds()
}

func decodeID(s string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func encodeID(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func (h *handlers) revocationAdd(hdl command.Handle) {
	inst, ok := hdl.Get()
	if !ok {
		return
	}
	_ = inst.SetProgress(jsonval.Object())

	entry, cause := h.parseRevocationEntry(inst.Parameters)
	if cause != nil {
		_ = inst.SetError(cause)
		return
	}

	if h.revocation == nil {
		_ = inst.SetError(errs.New(errs.DomainCommand, errs.CodeUnrouted, "baseapi._accessRevocationList.add", "no revocation manager configured"))
		return
	}
	if err := h.revocation.Block(entry); err != nil {
		_ = inst.SetError(errs.Wrap(errs.DomainCommand, errs.CodeInvalidFormat, "baseapi._accessRevocationList.add", "block failed", err))
		return
	}
	if err := inst.Complete(jsonval.Object()); err != nil {
		h.logger.Warn("_accessRevocationList.add: failed to complete", "err", err)
	}
}

func (h *handlers) parseRevocationEntry(params jsonval.Value) (revocation.Entry, *errs.Error) {
	const loc = "baseapi._accessRevocationList.add"

	userIDB64, ok := stringParam(params, "userId")
	if !ok {
		return revocation.Entry{}, errs.New(errs.DomainCommand, errs.CodeInvalidFormat, loc, "missing userId")
	}
	userID, err := decodeID(userIDB64)
	if err != nil {
		return revocation.Entry{}, errs.Wrap(errs.DomainCommand, errs.CodeInvalidFormat, loc, "userId is not valid base64", err)
	}

	appIDB64, ok := stringParam(params, "applicationId")
	if !ok {
		return revocation.Entry{}, errs.New(errs.DomainCommand, errs.CodeInvalidFormat, loc, "missing applicationId")
	}
	appID, err := decodeID(appIDB64)
	if err != nil {
		return revocation.Entry{}, errs.Wrap(errs.DomainCommand, errs.CodeInvalidFormat, loc, "applicationId is not valid base64", err)
	}

	revTsV, ok := params.Get("revocationTimestamp")
	if !ok {
		return revocation.Entry{}, errs.New(errs.DomainCommand, errs.CodeInvalidFormat, loc, "missing revocationTimestamp")
	}
	revTs, ok := revTsV.AsFloat()
	if !ok {
		return revocation.Entry{}, errs.New(errs.DomainCommand, errs.CodeInvalidFormat, loc, "revocationTimestamp must be a number")
	}

	entry := revocation.Entry{
		UserID:     userID,
		AppID:      appID,
		Revocation: j2000ToTime(revTs),
	}
	if expV, ok := params.Get("expirationTime"); ok {
		exp, ok := expV.AsFloat()
		if !ok {
			return revocation.Entry{}, errs.New(errs.DomainCommand, errs.CodeInvalidFormat, loc, "expirationTime must be a number")
		}
		entry.Expiration = j2000ToTime(exp)
	}
	return entry, nil
}

func (h *handlers) revocationList(hdl command.Handle) {
	inst, ok := hdl.Get()
	if !ok {
		return
	}
	_ = inst.SetProgress(jsonval.Object())

	if h.revocation == nil {
		_ = inst.SetError(errs.New(errs.DomainCommand, errs.CodeUnrouted, "baseapi._accessRevocationList.list", "no revocation manager configured"))
		return
	}

	entries := h.revocation.Entries()
	list := make([]jsonval.Value, len(entries))
	for i, e := range entries {
		item := jsonval.Object().
			Set("userId", jsonval.String(encodeID(e.UserID))).
			Set("applicationId", jsonval.String(encodeID(e.AppID))).
			Set("revocationTimestamp", jsonval.Float(timeToJ2000(e.Revocation)))
		if !e.Expiration.IsZero() {
			item = item.Set("expirationTime", jsonval.Float(timeToJ2000(e.Expiration)))
		}
		list[i] = item
	}
	results := jsonval.Object().Set("revocations", jsonval.Array(list))
	if err := inst.Complete(results); err != nil {
		h.logger.Warn("_accessRevocationList.list: failed to complete", "err", err)
	}
}
