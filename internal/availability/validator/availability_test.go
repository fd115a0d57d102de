package validator

import (
	"medislot/pkg/logger"
	"medislot/pkg/model"
	"strings"
	"testing"
)

func TestValidate_ClockAndRange(t *testing.T) {
	v := NewAvailabilityValidator(logger.Discard())

	tests := []struct {
		name      string
		day       int
		start     string
		end       string
		wantError bool
		wantField string
	}{
		{
			name:  "standard clinic hours",
			day:   1,
			start: "09:00",
			end:   "17:00",
		},
		{
			name:  "whole day",
			day:   0,
			start: "00:00",
			end:   "23:59",
		},
		{
			name:      "hour out of range",
			day:       1,
			start:     "25:00",
			end:       "26:00",
			wantError: true,
			wantField: "StartTime",
		},
		{
			name:      "single digit hour",
			day:       1,
			start:     "9:00",
			end:       "17:00",
			wantError: true,
			wantField: "StartTime",
		},
		{
			name:      "end before start",
			day:       1,
			start:     "17:00",
			end:       "09:00",
			wantError: true,
			wantField: "EndTime",
		},
		{
			name:      "empty range",
			day:       1,
			start:     "10:00",
			end:       "10:00",
			wantError: true,
			wantField: "EndTime",
		},
		{
			name:      "day of week out of range",
			day:       7,
			start:     "09:00",
			end:       "10:00",
			wantError: true,
			wantField: "DayOfWeek",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := &model.AvailabilityRule{
				ProviderID: "prov-1",
				DayOfWeek:  tt.day,
				StartTime:  tt.start,
				EndTime:    tt.end,
				Active:     true,
			}

			err := v.Validate(rule)
			if (err != nil) != tt.wantError {
				t.Fatalf("Validate() error = %v, wantError %v", err, tt.wantError)
			}
			if err != nil && !strings.Contains(err.Error(), tt.wantField) {
				t.Errorf("expected error on %s, got %v", tt.wantField, err)
			}
		})
	}
}

func TestValidate_MissingProvider(t *testing.T) {
	v := NewAvailabilityValidator(logger.Discard())

	err := v.Validate(&model.AvailabilityRule{DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"})
	if err == nil || !strings.Contains(err.Error(), "ProviderID is required") {
		t.Fatalf("expected ProviderID is required, got %v", err)
	}
}

func TestValidateUpdate(t *testing.T) {
	v := NewAvailabilityValidator(logger.Discard())

	bad := "7:5"
	if err := v.ValidateUpdate(&model.AvailabilityRuleUpdate{StartTime: &bad}); err == nil {
		t.Errorf("expected invalid clock to fail")
	}

	good := "08:30"
	if err := v.ValidateUpdate(&model.AvailabilityRuleUpdate{StartTime: &good}); err != nil {
		t.Errorf("unexpected error %v", err)
	}
}
