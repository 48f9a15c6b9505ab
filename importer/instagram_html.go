package importer

import (
	"fmt"
	"io"
	"log"
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"outreach/contacts"
)

// phonePattern телефон в тексте профиля: +7/8 с пробелами, скобками и дефисами
var phonePattern = regexp.MustCompile(`(?:\+7|8|7)[\s(]*\d{3}[\s)]*[\d\s-]{7,12}`)

// ParseInstagramHTMLFile парсит файл экспорта профилей Instagram
func ParseInstagramHTMLFile(filePath string, startSeq int) ([]contacts.RawContact, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open profiles file: %w", err)
	}
	defer file.Close()
	return ParseInstagramHTML(file, startSeq)
}

// ParseInstagramHTML парсит экспорт профилей Instagram.
// Каждый профиль — блок div.profile с атрибутом data-username
func ParseInstagramHTML(r io.Reader, startSeq int) ([]contacts.RawContact, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var records []contacts.RawContact
	doc.Find("div.profile").Each(func(i int, s *goquery.Selection) {
		username, _ := s.Attr("data-username")
		username = strings.TrimPrefix(strings.TrimSpace(username), "@")
		if username == "" {
			return
		}

		record := contacts.RawContact{
			SourceID:  "instagram",
			SourceKey: "instagram:" + username,
			Seq:       startSeq + len(records),
		}

		record.Name = strings.TrimSpace(s.Find(".full-name").First().Text())
		if record.Name == "" {
			record.Name = username
		}
		record.Address = strings.TrimSpace(s.Find(".address").First().Text())
		record.CategoryText = strings.TrimSpace(s.Find(".category").First().Text())
		record.SocialHandle = "@" + username
		if src, ok := s.Find("img.avatar").First().Attr("src"); ok {
			record.PhotoURL = strings.TrimSpace(src)
		}

		bio := s.Find(".bio").First().Text()
		record.PhoneRaw = strings.TrimSpace(phonePattern.FindString(bio))

		records = append(records, record)
	})

	log.Printf("[Importer] Parsed %d profiles from HTML", len(records))
	return records, nil
}
