package model

import (
	"time"
)

// Milestone is a fixed day-offset around an expiration date.
type Milestone string

const (
	MilestoneThreeDaysBefore Milestone = "3_days_before"
	MilestoneExpireDay       Milestone = "expire_day"
	MilestoneThreeDaysAfter  Milestone = "3_days_after"
	MilestoneThirtyDaysAfter Milestone = "30_days_after"
)

// AllMilestones in evaluation order.
var AllMilestones = []Milestone{
	MilestoneThreeDaysBefore,
	MilestoneExpireDay,
	MilestoneThreeDaysAfter,
	MilestoneThirtyDaysAfter,
}

func (m Milestone) Valid() bool {
	for _, x := range AllMilestones {
		if x == m {
			return true
		}
	}
	return false
}

// SentFlag is one boolean+timestamp pair.
type SentFlag struct {
	Sent   bool
	SentAt *time.Time
}

// MilestoneFlags holds the four sticky sent flags of a shadow record.
type MilestoneFlags struct {
	ThreeDaysBefore SentFlag
	ExpireDay       SentFlag
	ThreeDaysAfter  SentFlag
	ThirtyDaysAfter SentFlag
}

func (f *MilestoneFlags) flag(m Milestone) *SentFlag {
	switch m {
	case MilestoneThreeDaysBefore:
		return &f.ThreeDaysBefore
	case MilestoneExpireDay:
		return &f.ExpireDay
	case MilestoneThreeDaysAfter:
		return &f.ThreeDaysAfter
	case MilestoneThirtyDaysAfter:
		return &f.ThirtyDaysAfter
	}
	return nil
}

func (f MilestoneFlags) IsSent(m Milestone) bool {
	if p := f.flag(m); p != nil {
		return p.Sent
	}
	return false
}

// Mark sets the flag once. It returns false when it was already set.
func (f *MilestoneFlags) Mark(m Milestone, at time.Time) bool {
	p := f.flag(m)
	if p == nil || p.Sent {
		return false
	}
	t := at
	p.Sent = true
	p.SentAt = &t
	return true
}

// civilDays counts whole calendar days from a to b in loc.
func civilDays(a, b time.Time, loc *time.Location) int {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// DueMilestone selects at most one milestone for the given day. Matching is
// by exact calendar-day offset, so a day that was missed is never caught up.
func DueMilestone(expiration, now time.Time, loc *time.Location, sent MilestoneFlags) (Milestone, bool) {
	if loc == nil {
		loc = time.UTC
	}
	daysToExpire := civilDays(now, expiration, loc)
	daysAfterExpire := -daysToExpire

	switch {
	case daysToExpire == 3 && !sent.ThreeDaysBefore.Sent:
		return MilestoneThreeDaysBefore, true
	case daysToExpire == 0 && !sent.ExpireDay.Sent:
		return MilestoneExpireDay, true
	case daysAfterExpire == 3 && !sent.ThreeDaysAfter.Sent:
		return MilestoneThreeDaysAfter, true
	case daysAfterExpire == 30 && !sent.ThirtyDaysAfter.Sent:
		return MilestoneThirtyDaysAfter, true
	}
	return "", false
}

type ShadowKind string

const (
	ShadowKindDevice ShadowKind = "device"
	ShadowKindUser   ShadowKind = "user"
)

func (k ShadowKind) Valid() bool { return k == ShadowKindDevice || k == ShadowKindUser }

// ExpiredDevice shadows one (tracking user, tracking device) pair that has
// expired at least once.
type ExpiredDevice struct {
	TraccarUserID   int64
	TraccarDeviceID int64
	UserName        string
	UserEmail       string
	UserPhone       string
	DeviceName      string
	UniqueID        string
	DevicePhone     string
	ExpirationTime  time.Time
	Milestones      MilestoneFlags
	DetectedAt      time.Time
	UpdatedAt       time.Time
}

// Recipient is the owner's phone, falling back to the device SIM.
func (d *ExpiredDevice) Recipient() string {
	if d.UserPhone != "" {
		return d.UserPhone
	}
	return d.DevicePhone
}

// ExpiredUser shadows one tracking-platform account that has expired.
type ExpiredUser struct {
	TraccarUserID  int64
	Name           string
	Email          string
	Phone          string
	Administrator  bool
	Disabled       bool
	ExpirationTime time.Time
	DeviceLimit    int
	UserLimit      int
	Milestones     MilestoneFlags
	DetectedAt     time.Time
	UpdatedAt      time.Time
}

func (u *ExpiredUser) Recipient() string { return u.Phone }
