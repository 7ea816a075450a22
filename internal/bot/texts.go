package bot

import "strings"

const (
	textWelcome = "👋 Привет!\n\n" +
		"Добро пожаловать в VPN бот! 🚀\n\n" +
		"✅ Здесь ты можешь оформить подписку на надёжный VPN-сервис\n" +
		"🌐 С моей помощью ты сможешь быстро и удобно получить доступ к защищённым серверам\n" +
		"⏳ Сроки подписки: от 1 дня до 6 месяцев\n\n" +
		"Если у тебя возникли вопросы или проблемы, можешь открыть FAQ или написать в поддержку\n" +
		"Удачи и безопасного серфинга в интернете! 🌐😊\n\n" +
		"Выбери, что хочешь сделать:"

	textFAQ = "1) Если вы выбрали пункт 'новая подписка' на сервер, на котором подписка уже активна, " +
		"то она автоматически продлится на оплаченный срок\n\n" +
		"2) Оформление заказа лучше всегда начинать со /start."

	textStatusHeader   = "📊 Статус вашей подписки:\n\n"
	textStatusEntry    = "🔒 Состояние: %s\n📅 Дата окончания: %s\n🌐 Сервер: %s\n\n🔑 Ключ:\n `%s`\n\n"
	textStatusNoKey    = "🔒 Состояние: %s\n📅 Дата окончания: %s\n🌐 Сервер: %s\n\n🔑 Ключ временно недоступен\n\n"
	textStatusPartial  = "⚠️ Часть серверов сейчас недоступна, список может быть неполным.\n"
	textActive         = "Активна ✅"
	textInactive       = "Неактивна ❌"
	textNoSubscription = "❌ У тебя пока нет активной подписки 😕"

	textChooseServer = "Выберите сервер:"
	textServerFull   = "Извините, текущий сервер пока не доступен"
	textChoosePlan   = "Сервер: %s\nВыберите период подписки:"
	textPricesFailed = "❌ Не удалось получить цены для сервера %s. Попробуйте позже."

	textConfirm = "Ты выбрал:\n" +
		"🌐 Сервер: %s\n" +
		"🕒 Период: %s\n" +
		"💰 Цена: %d RUB\n" +
		"📝 Тип: %s\n\n" +
		"%s" +
		"Всё верно? 🤔"
	textModeNew         = "Новая подписка"
	textModeRenew       = "Продление"
	textAttentionRenew  = "❕ ВНИМАНИЕ: Ты выбрал новую подписку на сервер, на котором она уже куплена.\nЕсли продолжишь, то АКТИВНАЯ подписка ПРОДЛИТСЯ на выбранный тобой срок\n\n"
	textAttentionCreate = "❕ ВНИМАНИЕ: Ты выбрал продление подписки на сервер, на котором она еще не оформлена.\nЕсли продолжишь, то ОФОРМИТСЯ НОВАЯ подписка на выбранный тобой срок\n\n"
	textEmailMissing    = "❌ Email не найден. Введите команду /set\\_email и попробуйте снова."
	textPay             = "Для оплаты %d RUB нажмите кнопку 'Оплатить'\n\nP.S. бот автоматически проверит статус оплаты и вышлет конфигурацию для подключения"
	textPaymentFailed   = "❌ Не удалось создать платёж. Попробуйте позже."
	textSessionExpired  = "⌛ Выбор устарел. Начните заново с /start."

	textAskEmail     = "📩 Пожалуйста, отправьте ваш email для получения чека."
	textEmailSaved   = "✅ Email сохранён: %s"
	textEmailInvalid = "❌ Неверный email: %s\nПожалуйста, введите корректный email:"
)

const (
	btnNewSubscription = "🛒 Новая подписка"
	btnStatus          = "📊 Статус подписки"
	btnRenew           = "🔄 Продлить подписку"
	btnSupport         = "🆘 Поддержка"
	btnFAQ             = "❓ FAQ"
	btnMainMenu        = "🏠 В главное меню"
	btnBack            = "🔙 Назад"
	btnYes             = "✅ Да"
	btnNo              = "❌ Нет"
	btnPay             = "💳 Оплатить"
	btnPayCrypto       = "💳 Оплатить криптовалютой"
	btnPayCryptoOff    = "💳 Оплатить криптовалютой (Недоступно)"
	btnPayOff          = "💳 Оплатить картой (Недоступно)"
)

// Callback data.
const (
	cbMainMenu        = "main_menu"
	cbNewSubscription = "new_subscription"
	cbRenew           = "renew"
	cbStatus          = "status"
	cbFAQ             = "faq"
	cbFull            = "full"
	cbUnavailable     = "coming_soon"
	cbConfirmPayment  = "confirm_payment"
	cbServerPrefix    = "server-"
)

var planLabels = map[string]string{
	"1_day":    "1️⃣ 1 День",
	"1_week":   "🗓 1 Неделя",
	"1_month":  "📆 1 Месяц",
	"6_months": "⏱ 6 Месяцев",
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// md escapes text for Telegram's legacy Markdown outside of code spans.
func md(s string) string {
	return markdownEscaper.Replace(s)
}
