package usecase

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"fleet-billing/internal/domain"
	"fleet-billing/internal/domain/model"
	"fleet-billing/internal/domain/ports/adapter"
	"fleet-billing/internal/domain/ports/repository"
	"fleet-billing/internal/infra/i18n"
	"fleet-billing/internal/infra/logging"
)

// Compile-time check
var _ NotificationUseCase = (*notificationUC)(nil)

// NotificationUseCase sends at most one reminder per milestone for every
// device and user whose expiration falls on a milestone day.
type NotificationUseCase interface {
	NotifyDevices(ctx context.Context, opts NotifyOptions) (NotifyReport, error)
	NotifyUsers(ctx context.Context, opts NotifyOptions) (NotifyReport, error)
}

type NotifyOptions struct {
	DryRun            bool
	MaxDevicesPerUser int
	ForceDeviceID     int64
}

// Dispatch channels.
const (
	ChannelTemplate = "template"
	ChannelFallback = "fallback"
	ChannelNone     = "none"
)

// Dispatch is one attempted reminder.
type Dispatch struct {
	Subject   model.ShadowKind
	ID        int64
	Milestone model.Milestone
	Channel   string
	Err       error
}

type NotifyReport struct {
	Scanned    int
	Due        int
	Sent       int
	Failed     int
	Skipped    int
	Dispatches []Dispatch
}

type NotifyConfig struct {
	Template          string
	Location          *time.Location
	MaxDevicesPerUser int
	PageSize          int
}

type notificationUC struct {
	inventory adapter.DeviceInventory
	platform  adapter.TrackingPlatform
	devices   repository.ExpiredDeviceRepository
	users     repository.ExpiredUserRepository
	sms       adapter.SMSProvider
	events    adapter.EventPublisher
	tr        *i18n.Translator
	cfg       NotifyConfig
	log       *zerolog.Logger
	now       func() time.Time
}

func NewNotificationUseCase(
	inventory adapter.DeviceInventory,
	platform adapter.TrackingPlatform,
	devices repository.ExpiredDeviceRepository,
	users repository.ExpiredUserRepository,
	sms adapter.SMSProvider,
	events adapter.EventPublisher,
	tr *i18n.Translator,
	cfg NotifyConfig,
	logger *zerolog.Logger,
) *notificationUC {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Template == "" {
		cfg.Template = "uzradyabexpire"
	}
	if cfg.MaxDevicesPerUser <= 0 {
		cfg.MaxDevicesPerUser = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	l := logger.With().Str("component", "NotificationUC").Logger()
	return &notificationUC{
		inventory: inventory,
		platform:  platform,
		devices:   devices,
		users:     users,
		sms:       sms,
		events:    events,
		tr:        tr,
		cfg:       cfg,
		log:       &l,
		now:       time.Now,
	}
}

func (n *notificationUC) WithClock(now func() time.Time) *notificationUC {
	n.now = now
	return n
}

func (n *notificationUC) NotifyDevices(ctx context.Context, opts NotifyOptions) (NotifyReport, error) {
	defer logging.TraceDuration(n.log, "NotificationUC.NotifyDevices")()
	var rep NotifyReport
	now := n.now()
	w := &inventoryWalker{inventory: n.inventory, pageSize: n.cfg.PageSize, maxPerUser: pick(opts.MaxDevicesPerUser, n.cfg.MaxDevicesPerUser)}

	err := w.walk(ctx, opts.ForceDeviceID, func(batch []adapter.InventoryDevice) error {
		keys := make([]repository.DeviceKey, 0, len(batch))
		for _, d := range batch {
			keys = append(keys, repository.DeviceKey{UserID: d.UserID, DeviceID: d.DeviceID})
		}
		known, err := n.devices.FindMany(ctx, repository.NoTX, keys)
		if err != nil {
			return err
		}
		for _, d := range batch {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			rep.Scanned++
			if d.ExpirationTime == nil {
				continue
			}
			key := repository.DeviceKey{UserID: d.UserID, DeviceID: d.DeviceID}
			row := shadowFromInventory(d)
			if prev, ok := known[key]; ok {
				row.Milestones = prev.Milestones
			}
			m, due := model.DueMilestone(row.ExpirationTime, now, n.cfg.Location, row.Milestones)
			if !due {
				continue
			}
			rep.Due++
			n.notifyDevice(ctx, row, m, now, opts.DryRun, &rep)
		}
		return nil
	})
	if err != nil {
		return rep, err
	}
	n.log.Info().Int("scanned", rep.Scanned).Int("due", rep.Due).Int("sent", rep.Sent).Int("failed", rep.Failed).Bool("dry_run", opts.DryRun).Msg("device reminders done")
	return rep, nil
}

func (n *notificationUC) notifyDevice(ctx context.Context, row *model.ExpiredDevice, m model.Milestone, now time.Time, dryRun bool, rep *NotifyReport) {
	lg := n.log.With().Int64("user_id", row.TraccarUserID).Int64("device_id", row.TraccarDeviceID).Str("milestone", string(m)).Logger()
	d := Dispatch{Subject: model.ShadowKindDevice, ID: row.TraccarDeviceID, Milestone: m, Channel: ChannelNone}

	recipient := row.Recipient()
	if recipient == "" {
		d.Err = domain.ErrMissingRecipient
		rep.Skipped++
		rep.Dispatches = append(rep.Dispatches, d)
		lg.Warn().Msg("no phone number; reminder skipped")
		return
	}
	if dryRun {
		rep.Sent++
		rep.Dispatches = append(rep.Dispatches, d)
		lg.Info().Str("to", recipient).Msg("dry run: would send reminder")
		return
	}

	user, device := n.sanitize(row.UserName), n.sanitize(row.DeviceName)
	fallback := n.tr.T("sms_device_expired", row.UserName, row.DeviceName, n.formatDate(row.ExpirationTime))
	d.Channel, d.Err = n.dispatch(ctx, &lg, recipient, []string{user, device, user + "_" + device}, fallback)
	rep.Dispatches = append(rep.Dispatches, d)
	if d.Err != nil {
		rep.Failed++
		return
	}
	rep.Sent++

	key := repository.DeviceKey{UserID: row.TraccarUserID, DeviceID: row.TraccarDeviceID}
	if err := n.devices.Ensure(ctx, repository.NoTX, row); err != nil {
		lg.Error().Err(err).Msg("could not store shadow device; flag not set")
		return
	}
	if _, err := n.devices.MarkMilestoneSent(ctx, repository.NoTX, key, m, now); err != nil {
		lg.Error().Err(err).Msg("could not set milestone flag")
		return
	}
	n.publishMilestone(ctx, model.ShadowKindDevice, row.TraccarDeviceID, m, d.Channel)
}

func (n *notificationUC) NotifyUsers(ctx context.Context, opts NotifyOptions) (NotifyReport, error) {
	defer logging.TraceDuration(n.log, "NotificationUC.NotifyUsers")()
	var rep NotifyReport
	now := n.now()
	list, err := n.platform.ListUsers(ctx)
	if err != nil {
		return rep, err
	}
	ids := make([]int64, 0, len(list))
	for _, tu := range list {
		ids = append(ids, tu.ID)
	}
	known, err := n.users.FindMany(ctx, repository.NoTX, ids)
	if err != nil {
		return rep, err
	}

	for _, tu := range list {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		rep.Scanned++
		if tu.ExpirationTime == nil {
			continue
		}
		row := expiredUserFrom(tu)
		if prev, ok := known[tu.ID]; ok {
			row.Milestones = prev.Milestones
		}
		m, due := model.DueMilestone(row.ExpirationTime, now, n.cfg.Location, row.Milestones)
		if !due {
			continue
		}
		rep.Due++
		n.notifyUser(ctx, row, m, now, opts.DryRun, &rep)
	}
	n.log.Info().Int("scanned", rep.Scanned).Int("due", rep.Due).Int("sent", rep.Sent).Int("failed", rep.Failed).Bool("dry_run", opts.DryRun).Msg("user reminders done")
	return rep, nil
}

func (n *notificationUC) notifyUser(ctx context.Context, row *model.ExpiredUser, m model.Milestone, now time.Time, dryRun bool, rep *NotifyReport) {
	lg := n.log.With().Int64("traccar_user_id", row.TraccarUserID).Str("milestone", string(m)).Logger()
	d := Dispatch{Subject: model.ShadowKindUser, ID: row.TraccarUserID, Milestone: m, Channel: ChannelNone}

	recipient := row.Recipient()
	if recipient == "" {
		d.Err = domain.ErrMissingRecipient
		rep.Skipped++
		rep.Dispatches = append(rep.Dispatches, d)
		lg.Warn().Msg("no phone number; reminder skipped")
		return
	}
	if dryRun {
		rep.Sent++
		rep.Dispatches = append(rep.Dispatches, d)
		lg.Info().Str("to", recipient).Msg("dry run: would send reminder")
		return
	}

	fallback := n.tr.T("sms_user_expired", row.Name, n.formatDate(row.ExpirationTime))
	d.Channel, d.Err = n.dispatch(ctx, &lg, recipient, []string{n.sanitize(row.Name)}, fallback)
	rep.Dispatches = append(rep.Dispatches, d)
	if d.Err != nil {
		rep.Failed++
		return
	}
	rep.Sent++

	if err := n.users.Ensure(ctx, repository.NoTX, row); err != nil {
		lg.Error().Err(err).Msg("could not store shadow user; flag not set")
		return
	}
	if _, err := n.users.MarkMilestoneSent(ctx, repository.NoTX, row.TraccarUserID, m, now); err != nil {
		lg.Error().Err(err).Msg("could not set milestone flag")
		return
	}
	n.publishMilestone(ctx, model.ShadowKindUser, row.TraccarUserID, m, d.Channel)
}

// dispatch tries the template with each token in turn, moving on only while
// the provider rejects the token itself, then falls back to free text.
func (n *notificationUC) dispatch(ctx context.Context, lg *zerolog.Logger, to string, tokens []string, fallback string) (string, error) {
	var lastErr error
	for i, tok := range tokens {
		err := n.sms.SendTemplate(ctx, to, n.cfg.Template, tok)
		if err == nil {
			lg.Info().Int("token_option", i+1).Msg("template sms sent")
			return ChannelTemplate, nil
		}
		lastErr = err
		lg.Warn().Err(err).Int("token_option", i+1).Str("token", tok).Msg("template sms failed")
		var se *adapter.SMSError
		if !errors.As(err, &se) || se.Status != adapter.SMSStatusInvalidToken {
			break
		}
	}

	if err := n.sms.Send(ctx, to, fallback); err != nil {
		lg.Error().Err(err).AnErr("template_err", lastErr).Msg("all sms methods failed")
		return ChannelNone, err
	}
	lg.Info().Msg("fallback sms sent")
	return ChannelFallback, nil
}

func (n *notificationUC) publishMilestone(ctx context.Context, kind model.ShadowKind, id int64, m model.Milestone, channel string) {
	if n.events == nil {
		return
	}
	ev := adapter.Event{
		Type:       adapter.EventMilestoneSent,
		Key:        string(kind) + ":" + strconv.FormatInt(id, 10),
		OccurredAt: n.now().UTC(),
		Data:       map[string]string{"kind": string(kind), "milestone": string(m), "channel": channel},
	}
	if err := n.events.Publish(ctx, ev); err != nil {
		n.log.Warn().Err(err).Str("key", ev.Key).Msg("event not published")
	}
}

func (n *notificationUC) formatDate(t time.Time) string {
	return t.In(n.cfg.Location).Format("2006/01/02")
}

func (n *notificationUC) sanitize(s string) string {
	if tok := SanitizeToken(s); tok != "" {
		return tok
	}
	return n.tr.T("unknown_name")
}

var tokenReplacer = strings.NewReplacer(
	" ", "_", "-", "_", "/", "_", `\`, "_", "(", "_", ")", "_",
	"[", "_", "]", "_", "{", "_", "}", "_", "|", "_", `"`, "_",
	"'", "_", "&", "_", "#", "_", "%", "_", "@", "_", "!", "_",
	"?", "_", "*", "_", "+", "_", "=", "_", "<", "_", ">", "_",
)

const maxTokenRunes = 50

// SanitizeToken maps characters the SMS template rejects to underscores,
// collapses runs, trims them and caps the length. It returns "" when nothing
// usable is left.
func SanitizeToken(s string) string {
	s = tokenReplacer.Replace(s)
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	s = strings.Trim(s, "_")
	if utf8.RuneCountInString(s) > maxTokenRunes {
		s = string([]rune(s)[:maxTokenRunes])
	}
	return s
}
