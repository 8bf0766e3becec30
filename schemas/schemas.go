// Package schemas names the well-known templates the decoder has dedicated
// normalization strategies for.
package schemas

const (
	Basic         string = "basic"
	AccessControl string = "accessControl"
	Recipe        string = "recipe"
	Workout       string = "workout"
	Exercise      string = "exercise"
	Ingredient    string = "ingredient"
	Podcast       string = "podcast"
	Media         string = "media"
)
