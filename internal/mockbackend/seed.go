package mockbackend

import "time"

// Seed loads a demo campaign covering every attachment kind.
func Seed(s *Store, now time.Time) {
	s.Create("Welcome batch", []Row{
		{Name: "Ada Lovelace", Email: "ada@example.com", Subject: "Welcome aboard", Body: "Glad to have you.",
			Attachments: []string{"https://cdn.example.com/banner.png", "https://cdn.example.com/terms.pdf"}},
		{Name: "Grace Hopper", Email: "grace@example.com", Subject: "Welcome aboard", Body: "Glad to have you.",
			CC: "team@example.com",
			Attachments: []string{"https://drive.google.com/file/d/1AbC_dEf-GhI/view?usp=sharing"}},
		{Name: "Edsger Dijkstra", Email: "edsger@example.com", Subject: "Welcome aboard", Body: "Glad to have you.",
			Attachments: []string{"https://example.com/handbook"}},
	}, now)
	s.Create("Empty roster", nil, now.Add(time.Second))
}
