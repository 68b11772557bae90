package models_test

import (
	"errors"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/go-ports/everwalk/internal/models"
)

func TestCreatePetInputValidate_HappyPath(t *testing.T) {
	c := qt.New(t)

	in := &models.CreatePetInput{Name: "Bori", ImageURLs: []string{"https://img/1.jpg"}}
	c.Assert(in.Validate(), qt.IsNil)
}

func TestCreatePetInputValidate_FailurePath(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		name    string
		in      *models.CreatePetInput
		wantMsg string
	}{
		{"nil input", nil, ".*name is required"},
		{"empty name", &models.CreatePetInput{ImageURLs: []string{"a"}}, ".*name is required"},
		{"whitespace name", &models.CreatePetInput{Name: "  \t", ImageURLs: []string{"a"}}, ".*name is required"},
		{"no images", &models.CreatePetInput{Name: "Bori"}, ".*at least one image.*"},
		{"only blank images", &models.CreatePetInput{Name: "Bori", ImageURLs: []string{"", " "}}, ".*at least one image.*"},
	}

	for _, tc := range cases {
		c.Run(tc.name, func(c *qt.C) {
			err := tc.in.Validate()
			c.Assert(err, qt.ErrorMatches, tc.wantMsg)
			c.Assert(errors.Is(err, models.ErrInvalidInput), qt.IsTrue)
		})
	}
}

func TestParseInteractionType(t *testing.T) {
	c := qt.New(t)

	cases := []struct {
		in      string
		want    models.InteractionType
		wantErr bool
	}{
		{"FEEDING", models.InteractionFeeding, false},
		{"petting", models.InteractionPetting, false},
		{" Playing ", models.InteractionPlaying, false},
		{"walking", models.InteractionWalking, false},
		{"swimming", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		c.Run(tc.in, func(c *qt.C) {
			got, err := models.ParseInteractionType(tc.in)
			if tc.wantErr {
				c.Assert(errors.Is(err, models.ErrInvalidInput), qt.IsTrue)
				return
			}
			c.Assert(err, qt.IsNil)
			c.Assert(got, qt.Equals, tc.want)
		})
	}
}

func TestJobStatusTerminal(t *testing.T) {
	c := qt.New(t)
	c.Assert(models.JobPending.Terminal(), qt.IsFalse)
	c.Assert(models.JobProcessing.Terminal(), qt.IsFalse)
	c.Assert(models.JobCompleted.Terminal(), qt.IsTrue)
	c.Assert(models.JobFailed.Terminal(), qt.IsTrue)
}

func TestMoodHeading(t *testing.T) {
	c := qt.New(t)
	c.Assert(models.MoodMissingYou.Heading(), qt.Equals, "Missing you")
	c.Assert(models.Mood("UNKNOWN").Heading(), qt.Equals, "UNKNOWN")
}

func TestSlug(t *testing.T) {
	c := qt.New(t)

	cases := []struct{ in, want string }{
		{"Bori", "bori"},
		{"Mr. Whiskers (2nd)", "mr-whiskers-2nd"},
		{"보리", "pet"},
		{"", "pet"},
	}
	for _, tc := range cases {
		c.Run(tc.in, func(c *qt.C) {
			c.Assert(models.Slug(tc.in), qt.Equals, tc.want)
		})
	}
}
