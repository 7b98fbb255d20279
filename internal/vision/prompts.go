package vision

import (
	"strings"

	"github.com/spherical/pdf-enricher/internal/domain"
)

// Prompts is the prompt set for one language.
type Prompts struct {
	FullPage            string
	SingleImage         string
	TableExtraction     string
	HighQuality         string
	HighQualityWithHint string
}

// WithHint fills the reference-text placeholder of HighQualityWithHint.
func (p Prompts) WithHint(hint string) string {
	return strings.ReplaceAll(p.HighQualityWithHint, "{hint_text}", hint)
}

// PromptsFor returns the prompt set for lang; unknown languages get Thai.
func PromptsFor(lang domain.Language) Prompts {
	if lang == domain.LanguageEnglish {
		return englishPrompts
	}
	return thaiPrompts
}

var thaiPrompts = Prompts{
	FullPage: `หน้านี้มาจากคู่มือการใช้งานอุปกรณ์มือถือภาษาไทย
กรุณาทำสิ่งต่อไปนี้:
1. คัดลอกข้อความภาษาไทยทั้งหมดที่ปรากฏบนหน้านี้ให้ครบถ้วนและถูกต้อง
2. สำหรับภาพ ไดอะแกรม หรือภาพหน้าจอ ให้อธิบายเป็นภาษาไทยอย่างละเอียด
   เช่น ตำแหน่งปุ่ม องค์ประกอบ UI ลูกศร และหมายเลขขั้นตอน
3. จัดรูปแบบผลลัพธ์เป็น Markdown ที่สะอาด มีหัวข้อและขั้นตอนที่ชัดเจน
ห้ามแปลข้อความ ให้คงภาษาไทยไว้ทั้งหมด`,

	SingleImage: `ภาพนี้มาจากคู่มือการใช้งานอุปกรณ์มือถือภาษาไทย
กรุณาอธิบายสิ่งที่เห็นในภาพอย่างละเอียดเป็นภาษาไทย:
- ภาพหน้าจอ UI หรือเมนู
- ไดอะแกรมหรือแผนภาพ
- ป้ายกำกับปุ่ม ลูกศร หรือตัวเลขขั้นตอน
- คำแนะนำที่เป็นภาพ
หากมีข้อความในภาพให้คัดลอกออกมาด้วย ตอบเป็นภาษาไทยในรูปแบบย่อหน้าสั้นๆ`,

	TableExtraction: `ภาพนี้เป็นตารางจากเอกสาร PDF ภาษาไทย
กรุณาทำสิ่งต่อไปนี้:
1. แปลงตารางเป็นรูปแบบ Markdown Table โดย:
   - ใส่หัวคอลัมน์ให้ครบถ้วน
   - จัดเรียงข้อมูลในแต่ละเซลล์ให้ถูกต้อง
   - ถ้ามีข้อมูลที่ไม่ชัดเจนให้ใส่ [ไม่ชัดเจน]
2. ตอบเฉพาะตาราง Markdown เท่านั้น
คงข้อความภาษาไทยไว้ทั้งหมด ห้ามแปลภาษา`,

	HighQuality: `คุณเป็นผู้เชี่ยวชาญด้าน OCR ภาษาไทย กรุณาถอดข้อความจากภาพหน้าเอกสารนี้อย่างละเอียดและแม่นยำที่สุด

กฎที่ต้องปฏิบัติตาม:
1. คัดลอกข้อความทุกตัวอักษรตามที่ปรากฏในภาพ รวมถึงวรรณยุกต์ สระ และตัวเลขทั้งหมด
2. รักษาโครงสร้างเอกสาร: หัวข้อใช้ #/##/### ตามลำดับชั้น, รายการใช้ - หรือตัวเลข, ย่อหน้าคั่นด้วยบรรทัดว่าง
3. ตารางให้แปลงเป็น Markdown Table พร้อมหัวคอลัมน์ให้ครบถ้วน
4. ภาพ ไดอะแกรม หรือภาพหน้าจอ ให้อธิบายรายละเอียดเป็นภาษาไทย
5. ข้อความที่อ่านไม่ชัดให้ใส่ [ไม่ชัดเจน]
6. ห้ามแปลภาษา คงภาษาไทยไว้ทั้งหมด
7. ตอบเฉพาะเนื้อหา Markdown เท่านั้น ห้ามใส่คำอธิบายเพิ่มเติม`,

	HighQualityWithHint: `คุณเป็นผู้เชี่ยวชาญด้าน OCR ภาษาไทย กรุณาถอดข้อความจากภาพหน้าเอกสารนี้อย่างละเอียดและแม่นยำที่สุด

ด้านล่างนี้คือข้อความอ้างอิงที่สกัดจาก PDF โดยอัตโนมัติ อาจมีข้อผิดพลาด เช่น ลำดับตัวอักษรสลับ สระลอย วรรณยุกต์หาย ใช้เป็นตัวช่วยตรวจสอบคำที่ไม่ชัดเท่านั้น ภาพคือแหล่งข้อมูลหลัก

--- ข้อความอ้างอิงจาก PDF ---
{hint_text}
--- สิ้นสุดข้อความอ้างอิง ---

กฎที่ต้องปฏิบัติตาม:
1. คัดลอกข้อความทุกตัวอักษรตามที่ปรากฏในภาพ รวมถึงวรรณยุกต์ สระ และตัวเลขทั้งหมด
2. รักษาโครงสร้างเอกสาร: หัวข้อใช้ #/##/### ตามลำดับชั้น, รายการใช้ - หรือตัวเลข, ย่อหน้าคั่นด้วยบรรทัดว่าง
3. ตารางให้แปลงเป็น Markdown Table พร้อมหัวคอลัมน์ให้ครบถ้วน
4. ภาพ ไดอะแกรม หรือภาพหน้าจอ ให้อธิบายรายละเอียดเป็นภาษาไทย
5. ข้อความที่อ่านไม่ชัดให้ใส่ [ไม่ชัดเจน]
6. ห้ามแปลภาษา คงภาษาไทยไว้ทั้งหมด
7. ตอบเฉพาะเนื้อหา Markdown เท่านั้น ห้ามใส่คำอธิบายเพิ่มเติม`,
}

var englishPrompts = Prompts{
	FullPage: "This page is from a device manual. " +
		"Please transcribe ALL visible text exactly as shown. " +
		"For diagrams, screenshots, or illustrations, describe them in detail " +
		"including button locations, UI elements, arrows, and step numbers. " +
		"Format as clean Markdown with proper headings and numbered steps.",

	SingleImage: "This image is from a device manual. " +
		"Describe what you see in detail: UI screenshots, diagrams, " +
		"button labels, arrows, step indicators, or visual instructions. " +
		"If there is text in the image, transcribe it. " +
		"Be specific and technical. Output as a short paragraph.",

	TableExtraction: `This image is a table from a PDF document.
Please do the following:
1. Convert the table to Markdown table format:
   - Include all column headers
   - Arrange cell data accurately
   - If any data is unclear, use [unclear]
2. Output only the Markdown table
Preserve all original text exactly as shown.`,

	HighQuality: `You are an expert document OCR system. Transcribe this page image with maximum accuracy.

Rules:
1. Transcribe every character exactly as shown in the image, including numbers, symbols, and punctuation
2. Preserve document structure: headings as #/##/###, lists as - or numbered, paragraphs separated by blank lines
3. Convert tables to Markdown tables with complete column headers
4. Describe images, diagrams, or screenshots in detail
5. Mark unclear text as [unclear]
6. Output clean Markdown only, with no commentary or explanation`,

	HighQualityWithHint: `You are an expert document OCR system. Transcribe this page image with maximum accuracy.

Below is reference text extracted automatically from the PDF. It may contain errors such as wrong character ordering, missing diacritics, or garbled text. Use it only to verify ambiguous words. The image is the primary source.

--- Reference text from PDF ---
{hint_text}
--- End reference text ---

Rules:
1. Transcribe every character exactly as shown in the image, including numbers, symbols, and punctuation
2. Preserve document structure: headings as #/##/###, lists as - or numbered, paragraphs separated by blank lines
3. Convert tables to Markdown tables with complete column headers
4. Describe images, diagrams, or screenshots in detail
5. Mark unclear text as [unclear]
6. Output clean Markdown only, with no commentary or explanation`,
}
