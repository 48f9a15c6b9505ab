package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
)

// venueKinds виды заведений для генерации тестовых данных
var venueKinds = []struct {
	category string
	prefixes []string
}{
	{"отель", []string{"Отель", "Гранд Отель", "Бутик-отель"}},
	{"глэмпинг", []string{"Глэмпинг", "Эко-глэмпинг"}},
	{"база отдыха", []string{"База отдыха", "Зона отдыха"}},
	{"санаторий", []string{"Санаторий", "Санаторий-профилакторий"}},
	{"гостевой дом", []string{"Гостевой дом", "Гостиница"}},
}

var cities = []string{"Алматы", "Астана", "Шымкент", "Талгар", "Щучинск", "Капшагай"}

var nameSuffixes = []string{"Алатау", "Медео", "Шымбулак", "Бурабай", "Жетысу", "Тянь-Шань", "Каскелен", "Иссык"}

func main() {
	count := flag.Int("count", 100, "Количество записей")
	out := flag.String("out", "test_places.csv", "Путь к выходному CSV")
	duplicates := flag.Float64("duplicates", 0.15, "Доля дубликатов с искаженными полями")
	flag.Parse()

	gofakeit.Seed(0)

	file, err := os.Create(*out)
	if err != nil {
		log.Fatalf("Не удалось создать файл: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"id", "name", "address", "contacts", "social", "category", "city"}); err != nil {
		log.Fatalf("Не удалось записать заголовок: %v", err)
	}

	rows := make([][]string, 0, *count)
	for i := 0; i < *count; i++ {
		kind := venueKinds[gofakeit.Number(0, len(venueKinds)-1)]
		city := cities[gofakeit.Number(0, len(cities)-1)]
		name := kind.prefixes[gofakeit.Number(0, len(kind.prefixes)-1)] + " " +
			nameSuffixes[gofakeit.Number(0, len(nameSuffixes)-1)]
		address := fmt.Sprintf("%s, ул. %s %d", city, gofakeit.LastName(), gofakeit.Number(1, 200))

		phone := ""
		if gofakeit.Number(0, 9) > 1 {
			phone = generateKZPhone()
		}
		social := ""
		if gofakeit.Bool() {
			social = "@" + strings.ToLower(gofakeit.Username())
		}

		rows = append(rows, []string{
			fmt.Sprintf("%d", 1000+i), name, address, phone, social, kind.category, city,
		})
	}

	// Часть записей дублируем с искажениями: так проверяется дедупликация
	dupCount := int(float64(*count) * *duplicates)
	for i := 0; i < dupCount; i++ {
		source := rows[gofakeit.Number(0, len(rows)-1)]
		dup := make([]string, len(source))
		copy(dup, source)
		dup[0] = fmt.Sprintf("%d", 9000+i)
		dup[1] = mangle(dup[1])
		if dup[3] != "" && gofakeit.Bool() {
			dup[3] = "8" + strings.TrimPrefix(dup[3], "+7")
		}
		rows = append(rows, dup)
	}

	for _, row := range rows {
		if err := writer.Write(row); err != nil {
			log.Fatalf("Не удалось записать строку: %v", err)
		}
	}

	log.Printf("Сгенерировано %d записей (%d дубликатов): %s", len(rows), dupCount, *out)
}

// generateKZPhone возвращает казахстанский мобильный номер
func generateKZPhone() string {
	prefixes := []string{"701", "702", "705", "707", "747", "775", "777", "778"}
	prefix := prefixes[gofakeit.Number(0, len(prefixes)-1)]
	return fmt.Sprintf("+7%s%07d", prefix, gofakeit.Number(0, 9999999))
}

// mangle слегка искажает название: кавычки, регистр, лишние пробелы
func mangle(name string) string {
	switch gofakeit.Number(0, 2) {
	case 0:
		return "«" + name + "»"
	case 1:
		return strings.ToUpper(name)
	default:
		return "  " + name + "  "
	}
}
