package database

import (
	"time"

	"github.com/kozaktomas/facegraph/internal/facematch"
)

// User owns a set of people. Users are created lazily on their first batch.
type User struct {
	ID        string
	PersonIDs []string
	CreatedAt time.Time
}

// Person is a system-managed identity: a set of encodings believed to be the same individual.
type Person struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Encoding is one face vector together with the image it was extracted from.
type Encoding struct {
	Vector  facematch.Vector
	ImageID string
}

// Image is the reverse index from a submitted image to the people seen in it.
type Image struct {
	ID        string
	UserID    string
	PersonIDs []string
}

// PersonEncodings is a person with its full encoding history.
type PersonEncodings struct {
	Person    Person
	Encodings []Encoding
}

// UserGraph is everything the matcher needs to know about one user.
type UserGraph struct {
	UserID string
	People []PersonEncodings
}

// Vectors returns the encoding vectors of every person, keyed by person ID.
func (g *UserGraph) Vectors() map[string][]facematch.Vector {
	out := make(map[string][]facematch.Vector, len(g.People))
	for _, p := range g.People {
		vs := make([]facematch.Vector, len(p.Encodings))
		for i, e := range p.Encodings {
			vs[i] = e.Vector
		}
		out[p.Person.ID] = vs
	}
	return out
}

// PersonSummary is the listing view of a person.
type PersonSummary struct {
	ID       string   `json:"person_id"`
	Name     string   `json:"name"`
	ImageIDs []string `json:"image_ids"`
}

// EncodingsFromFaces converts matcher faces into storable encodings.
func EncodingsFromFaces(faces []facematch.Face) []Encoding {
	out := make([]Encoding, len(faces))
	for i, f := range faces {
		out[i] = Encoding{Vector: f.Vector, ImageID: f.ImageID}
	}
	return out
}
