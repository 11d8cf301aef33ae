package model

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// LocationSample is one positioning fix. Treat as immutable once built.
type LocationSample struct {
	Latitude  float64 `json:"latitude" bson:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" bson:"longitude" validate:"gte=-180,lte=180"`
	Timestamp string  `json:"timestamp" bson:"timestamp" validate:"required,datetime=2006-01-02T15:04:05Z07:00"`
}

func NewLocationSample(lat, lon float64, at time.Time) LocationSample {
	return LocationSample{
		Latitude:  lat,
		Longitude: lon,
		Timestamp: at.UTC().Format(time.RFC3339),
	}
}

func (s LocationSample) Validate() error {
	return validate.Struct(s)
}

func (s LocationSample) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s.Timestamp)
}

// UserLocationRecord is the sharing-related projection of a user document.
// An empty TrackingCode is the null code.
type UserLocationRecord struct {
	UserID        string          `json:"userId"`
	Location      *LocationSample `json:"location"`
	ShareLocation bool            `json:"shareLocation"`
	TrackingCode  string          `json:"trackingCode"`
}

// LocationUpdate is the payload of an updateUserLocation operation: a full
// overwrite of the three sharing fields.
type LocationUpdate struct {
	UserID        string          `json:"userId"`
	Location      *LocationSample `json:"location"`
	ShareLocation bool            `json:"shareLocation"`
	TrackingCode  string          `json:"trackingCode"`
}

func (u LocationUpdate) Patch() RecordPatch {
	share := u.ShareLocation
	p := RecordPatch{ShareLocation: &share}
	if u.Location != nil {
		loc := *u.Location
		p.Location = &loc
	} else {
		p.ClearLocation = true
	}
	if u.TrackingCode != "" {
		code := u.TrackingCode
		p.TrackingCode = &code
	} else {
		p.ClearTrackingCode = true
	}
	return p
}

func (u LocationUpdate) Record() UserLocationRecord {
	return UserLocationRecord(u)
}

// RecordPatch is an upsert-merge of a user document. Nil fields are left untouched;
// the Clear flags write explicit nulls.
type RecordPatch struct {
	Location          *LocationSample
	ClearLocation     bool
	ShareLocation     *bool
	TrackingCode      *string
	ClearTrackingCode bool
}

func (p RecordPatch) Empty() bool {
	return p.Location == nil && !p.ClearLocation && p.ShareLocation == nil &&
		p.TrackingCode == nil && !p.ClearTrackingCode
}

// Apply merges the patch into rec, mirroring what the remote store does.
func (p RecordPatch) Apply(rec UserLocationRecord) UserLocationRecord {
	if p.Location != nil {
		loc := *p.Location
		rec.Location = &loc
	} else if p.ClearLocation {
		rec.Location = nil
	}
	if p.ShareLocation != nil {
		rec.ShareLocation = *p.ShareLocation
	}
	if p.TrackingCode != nil {
		rec.TrackingCode = *p.TrackingCode
	} else if p.ClearTrackingCode {
		rec.TrackingCode = ""
	}
	return rec
}
