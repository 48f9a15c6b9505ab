package composer

import "outreach/classification"

// typePhrases описания типов для подстановки в текст сообщения
var typePhrases = map[classification.VenueType]string{
	classification.VenueHotel:      "прекрасный отель",
	classification.VenueGlamping:   "потрясающий глэмпинг",
	classification.VenueResort:     "прекрасную базу отдыха",
	classification.VenueSanatorium: "замечательный санаторий",
	classification.VenueGuesthouse: "уютный гостевой дом",
}

// fallbackTemplateKey ключ общего шаблона, используемого при операторском
// override для контактов без распознанного типа
const fallbackTemplateKey = classification.VenueType("_fallback")

// builtinTemplates шаблоны первого касания по типам заведений.
// Плейсхолдеры: {{.Name}}, {{.Address}}, {{.TypePhrase}}
var builtinTemplates = map[classification.VenueType]string{
	classification.VenueHotel: `Привет, {{.Name}}!
Мы заметили ваш {{.TypePhrase}} рядом с {{.Address}}. Ваше место явно заслуживает большей аудитории туристов!

mytravel.kz — это топовая платформа путешествий в Казахстане, где вы получите:
• 10K+ активных туристов ежемесячно
• Лучший рейтинг для премиум объектов
• Инструменты управления бронированиями

Хотим добавить вас в каталог. Можно поговорить?

Команда mytravel.kz`,

	classification.VenueGlamping: `Привет, {{.Name}}!
Видели ваш {{.TypePhrase}} рядом с {{.Address}} — выглядит отлично! Путешественники в поиске необычного отдыха должны знать о вас.

mytravel.kz — платформа путешествий №1 в Казахстане:
• 10K+ активных туристов ежемесячно
• Отдельная подборка глэмпингов и эко-отдыха
• Бронирования без комиссии в первый месяц

Хотим добавить вас в каталог. Можно поговорить?

Команда mytravel.kz`,

	classification.VenueResort: `Привет, {{.Name}}!
Мы заметили вашу {{.TypePhrase}} рядом с {{.Address}}. Семьи и компании ищут именно такие места для отдыха!

mytravel.kz — это топовая платформа путешествий в Казахстане:
• 10K+ активных туристов ежемесячно
• Продвижение сезонных предложений
• Инструменты управления бронированиями

Хотим добавить вас в каталог. Можно поговорить?

Команда mytravel.kz`,

	classification.VenueSanatorium: `Здравствуйте, {{.Name}}!
Мы заметили ваш {{.TypePhrase}} рядом с {{.Address}}. Оздоровительный отдых — одно из самых востребованных направлений у наших пользователей.

mytravel.kz — платформа путешествий в Казахстане:
• 10K+ активных туристов ежемесячно
• Отдельный раздел санаторно-курортного отдыха
• Инструменты управления бронированиями

Хотим добавить вас в каталог. Можно поговорить?

Команда mytravel.kz`,

	classification.VenueGuesthouse: `Привет, {{.Name}}!
Мы заметили ваш {{.TypePhrase}} рядом с {{.Address}}. Гости ценят домашнюю атмосферу — помогите им вас найти!

mytravel.kz — платформа путешествий в Казахстане:
• 10K+ активных туристов ежемесячно
• Честные отзывы и рейтинг
• Бронирования напрямую, без посредников

Хотим добавить вас в каталог. Можно поговорить?

Команда mytravel.kz`,

	fallbackTemplateKey: `Привет, {{.Name}}!
Мы заметили {{.TypePhrase}} рядом с {{.Address}}. Ваше место заслуживает большей аудитории туристов!

mytravel.kz — топовая платформа путешествий в Казахстане с 10K+ туристов ежемесячно.

Хотим добавить вас в каталог. Можно поговорить?

Команда mytravel.kz`,
}
